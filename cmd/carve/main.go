// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
carve extracts files embedded in a raw disk image, device, or stream by
matching user-supplied header and footer signatures, without relying on
any file system structure.
*/

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/carve/carve"
	"github.com/grailbio/carve/rules"
)

var (
	outDir         = flag.String("o", "carve-output", "Output directory; must not exist or be empty")
	rulesPath      = flag.String("c", "carve.conf", "Rules configuration file")
	skip           = flag.Int64("s", 0, "Skip this many bytes at the start of each input")
	preview        = flag.Bool("p", false, "Preview mode: write the audit log only, no carved files")
	embedded       = flag.Bool("e", false, "Balanced header/footer matching for embedded files of the same type")
	missingFooters = flag.Bool("b", false, "Carve max-size files for Forward rules whose footer is not found")
	noOverlap      = flag.Bool("r", false, "Do not report overlapping header/footer matches")
	noSuffix       = flag.Bool("n", false, "Carve files without filename extensions")
	alignedBlock   = flag.Int64("q", 0, "Carve only headers aligned to this cluster size, in bytes")
	inputList      = flag.String("i", "", "File listing inputs to carve, one per line")
	generateHFD    = flag.Bool("d", false, "Write a <input>.hfd header/footer database per input")
	flat           = flag.Bool("flat", false, "Do not organize carved files into per-rule subdirectories")
	maxPerSubdir   = flag.Int64("m", 1000, "Files per output subdirectory before rolling over")
	coverageFile   = flag.String("coverage-file", "", "Coverage blockmap file path")
	coverageBS     = flag.Uint("coverage-blocksize", 0, "Block size for a newly created coverage blockmap")
	coverageGuide  = flag.Bool("u", false, "Skip blocks already covered per the coverage blockmap")
	coverageUpdate = flag.Bool("w", false, "Record carved blocks in the coverage blockmap")
)

const (
	exitInit = 1
	exitIO   = 2
	exitRule = 3
)

func carveUsage() {
	fmt.Printf("Usage: %s [OPTIONS] image [image ...]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = carveUsage
	// grail.Init installs the logging flags; verbose carving detail is
	// emitted at debug level.
	shutdown := grail.Init()
	defer shutdown()

	inputs := flag.Args()
	if *inputList != "" {
		listed, err := readInputList(*inputList)
		if err != nil {
			log.Error.Printf("%v", err)
			os.Exit(exitInit)
		}
		inputs = append(inputs, listed...)
	}
	if len(inputs) == 0 {
		flag.Usage()
		os.Exit(exitInit)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigc
		log.Error.Printf("caught %v, finishing up", s)
		carve.RequestCancel()
	}()

	ctx := vcontext.Background()
	carver, err := carve.New(ctx, carve.Options{
		RulesPath:         *rulesPath,
		OutputDir:         *outDir,
		Skip:              *skip,
		PreviewMode:       *preview,
		HandleEmbedded:    *embedded,
		MissingFooters:    *missingFooters,
		NoSearchOverlap:   *noOverlap,
		NoSuffix:          *noSuffix,
		BlockAlignedOnly:  *alignedBlock > 0,
		AlignedBlockSize:  *alignedBlock,
		Organize:          !*flat,
		MaxFilesPerSubdir: *maxPerSubdir,
		GenerateDatabase:  *generateHFD,
		CoveragePath:      *coverageFile,
		CoverageBlockSize: uint32(*coverageBS),
		CoverageGuide:     *coverageGuide,
		CoverageUpdate:    *coverageUpdate,
		Invocation:        strings.Join(os.Args, " "),
	})
	if err != nil {
		log.Error.Printf("initialization failed: %v", err)
		if err == rules.ErrTooManyRules {
			os.Exit(exitRule)
		}
		os.Exit(exitInit)
	}

	carveErr := carver.CarveAll(inputs)
	if err := carver.Close(); err != nil && carveErr == nil {
		carveErr = err
	}
	if carveErr != nil {
		log.Error.Printf("carving failed: %v", carveErr)
		os.Exit(exitIO)
	}
	log.Debug.Printf("exiting")
}

func readInputList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint: errcheck
	var inputs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			inputs = append(inputs, line)
		}
	}
	return inputs, scanner.Err()
}
