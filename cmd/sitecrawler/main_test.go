package main

import (
	"os"
	"testing"

	"github.com/masahif/sitecrawler/internal/cmd"
)

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty string")
	}

	if BuildTime == "" {
		t.Error("BuildTime should not be empty string")
	}
}

func TestMainLogic(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	cmd.SetVersionInfo(Version, BuildTime)

	for _, args := range [][]string{{"sitecrawler", "--help"}, {"sitecrawler", "--version"}} {
		os.Args = args
		err := cmd.Execute()
		if code := cmd.ExitCode(err); code != 0 {
			t.Errorf("%v exited with %d: %v", args[1:], code, err)
		}
	}
}
