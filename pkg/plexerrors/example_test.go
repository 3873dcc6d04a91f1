package plexerrors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// Example demonstrates basic error creation with context.
func Example() {
	err := plexerrors.New(plexerrors.ErrorTypePayloadTruncated, "series payload ends early").
		WithDetail("entry", "t_data_0.BIN").
		WithDetail("offset", int64(4096))

	fmt.Println(err.Error())

	// Output:
	// payload_truncated: series payload ends early
}

// ExampleWrap shows how to wrap an underlying error with a kind.
func ExampleWrap() {
	err := plexerrors.Wrap(io.ErrUnexpectedEOF, plexerrors.ErrorTypeArchiveCorrupt, "reading entry failed").
		WithDetail("entry", "Model Base Solution.xml")

	if plexerrors.IsType(err, plexerrors.ErrorTypeArchiveCorrupt) {
		fmt.Println("archive is corrupt")
	}
	fmt.Println(err)

	// Output:
	// archive is corrupt
	// archive_corrupt: reading entry failed: unexpected EOF
}

// ExampleMalformed shows how every metadata violation is carried in one error.
func ExampleMalformed() {
	err := plexerrors.Malformed([]string{
		"object 7 references unknown class 99",
		"membership 3 references unknown child object 12",
	})

	for _, v := range plexerrors.Violations(err) {
		fmt.Println(v)
	}

	// Output:
	// object 7 references unknown class 99
	// membership 3 references unknown child object 12
}
