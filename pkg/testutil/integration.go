package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConversionSuite is a base for end-to-end conversion suites. Every test
// gets a fresh scratch directory and a context bounded by Timeout.
type ConversionSuite struct {
	suite.Suite

	// Timeout bounds each test; zero means two minutes.
	Timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	dir    string
}

// SetupTest prepares the per-test context and directory.
func (s *ConversionSuite) SetupTest() {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	s.ctx, s.cancel = context.WithTimeout(context.Background(), timeout)
	s.dir = s.T().TempDir()
}

// TearDownTest cancels the per-test context.
func (s *ConversionSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Context returns the per-test context.
func (s *ConversionSuite) Context() context.Context { return s.ctx }

// Dir returns the per-test scratch directory.
func (s *ConversionSuite) Dir() string { return s.dir }

// WriteSolution writes sol into the scratch directory and returns the
// archive path.
func (s *ConversionSuite) WriteSolution(sol *Solution) string {
	return sol.Write(s.T(), s.dir)
}

// IntegrationTest skips t in -short mode.
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
