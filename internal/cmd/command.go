package cmd

import (
	"github.com/jessevdk/go-flags"
)

// ZipAnalyze is the root of the command line.
type ZipAnalyze struct {
	Profile string  `short:"p" long:"profile" description:"override the AWS profile of S3 inputs"`
	Analyze Analyze `command:"analyze" alias:"a" description:"print every record of ZIP archives"`
	Verify  Verify  `command:"verify" alias:"v" description:"check that the central directory of ZIP archives is consistent"`
}

// NewParser returns the parser for ZipAnalyze.
func NewParser() (*flags.Parser, *ZipAnalyze, error) {
	opts := &ZipAnalyze{}

	p := flags.NewNamedParser("zipanalyze", flags.Default)
	if _, err := p.AddGroup("Global Options", "", opts); err != nil {
		return nil, nil, err
	}

	return p, opts, nil
}
