//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const gotestsumVersion = "gotest.tools/gotestsum@v1.8.2"

var localBin = filepath.Join(mustGetwd(), "bin")

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return wd
}

// Clean up after yourself
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{"bin", "test-reports"} {
		os.RemoveAll(path)
	}
}

// Build compiles the log ingester into ./bin.
func Build() error {
	fmt.Println("Building logingester...")
	return sh.RunWith(map[string]string{"CGO_ENABLED": "0"},
		"go", "build", "-o", filepath.Join(localBin, "logingester"), "./cmd/logingester")
}

func gotestsum() error {
	if _, err := os.Stat(filepath.Join(localBin, "gotestsum")); err == nil {
		return nil
	}
	return sh.RunWith(map[string]string{"GOBIN": localBin}, "go", "install", gotestsumVersion)
}

// Tests runs every package's tests with the race detector and writes a junit report and coverage
// profile to ./test-reports.
func Tests() error {
	mg.Deps(gotestsum)
	if err := os.MkdirAll("test-reports", os.ModePerm); err != nil {
		return err
	}
	return sh.RunV(filepath.Join(localBin, "gotestsum"),
		"--junitfile", "test-reports/unit-tests.xml",
		"--", "-race", "-coverprofile=test-reports/coverage.out", "./...")
}

// CheckFormat fails if any Go file is not gofmt formatted.
func CheckFormat() error {
	out, err := sh.Output("gofmt", "-l", "cmd", "internal", "pkg")
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "" {
		return errors.Errorf("files not formatted:\n%s", out)
	}
	return nil
}

// Ci runs the checks performed on every pull request.
func Ci() {
	mg.SerialDeps(CheckFormat, Build, Tests)
}
