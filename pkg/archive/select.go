package archive

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// ModelName derives the model name from the archive file name by dropping
// the extension, a leading "Model " and a trailing " Solution".
func ModelName(archivePath string) string {
	name := filepath.Base(archivePath)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.TrimPrefix(name, "Model ")
	return strings.TrimSuffix(name, " Solution")
}

// MetadataEntry selects the XML metadata entry: the one whose stem equals
// the archive stem, else the first whose stem contains modelName
// (case-insensitive), else the first XML entry. Fallbacks are logged.
func (a *Archive) MetadataEntry(modelName string) (string, error) {
	zipStem := strings.TrimSuffix(filepath.Base(a.path), filepath.Ext(a.path))
	if modelName == "" {
		modelName = ModelName(a.path)
	}
	lowerModel := strings.ToLower(modelName)

	var byModel, first string
	for _, e := range a.entries {
		if !strings.EqualFold(path.Ext(e.Name), ".xml") {
			continue
		}
		base := path.Base(e.Name)
		stem := strings.TrimSuffix(base, path.Ext(base))
		if stem == zipStem {
			return e.Name, nil
		}
		if byModel == "" && lowerModel != "" && strings.Contains(strings.ToLower(stem), lowerModel) {
			byModel = e.Name
		}
		if first == "" {
			first = e.Name
		}
	}

	switch {
	case byModel != "":
		a.logger.Warn("metadata entry does not match archive name, using entry containing model name",
			zap.String("expected", zipStem+".xml"), zap.String("entry", byModel))
		return byModel, nil
	case first != "":
		a.logger.Warn("metadata entry does not match archive name, using first XML entry",
			zap.String("expected", zipStem+".xml"), zap.String("entry", first))
		return first, nil
	}
	return "", plexerrors.New(plexerrors.ErrorTypeEntryNotFound, "no XML metadata entry in archive").
		WithDetail("path", a.path)
}

// Sidecars holds the optional files written next to a solution archive.
type Sidecars struct {
	SimulationLog string
	RunStats      string
}

// ReadSidecars loads "Model ( <name> ) Log.txt" and runstats.json from the
// archive's directory. Missing files are skipped.
func ReadSidecars(archivePath, modelName string, logger *zap.Logger) Sidecars {
	dir := filepath.Dir(archivePath)
	var s Sidecars

	logPath := filepath.Join(dir, "Model ( "+modelName+" ) Log.txt")
	if b, err := os.ReadFile(logPath); err == nil { //nolint:gosec
		s.SimulationLog = string(b)
	} else if !os.IsNotExist(err) {
		logger.Warn("cannot read simulation log", zap.String("path", logPath), zap.Error(err))
	}

	statsPath := filepath.Join(dir, "runstats.json")
	if b, err := os.ReadFile(statsPath); err == nil { //nolint:gosec
		s.RunStats = string(b)
	} else if !os.IsNotExist(err) {
		logger.Warn("cannot read run stats", zap.String("path", statsPath), zap.Error(err))
	}
	return s
}
