//go:build ignore

// build.go - licenselock build system
// Usage: go run build.go [--target=TARGET] [--os=GOOS --arch=GOARCH]
// Targets: all, server, cli, test, release, clean

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	module    = "licenselock"
	outputDir = "dist"
)

var executables = map[string]string{
	"license-server": "./cmd/license-server",
	"licensectl":     "./cmd/licensectl",
}

var releasePlatforms = []struct{ goos, goarch string }{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"darwin", "arm64"},
	{"windows", "amd64"},
}

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	GOOS    string
	GOARCH  string
	Commit  string
	Time    string
}

func main() {
	target := pflag.StringP("target", "t", "all", "build target: all, server, cli, test, release, clean")
	verbose := pflag.BoolP("verbose", "v", false, "print every command")
	goos := pflag.String("os", runtime.GOOS, "target operating system")
	goarch := pflag.String("arch", runtime.GOARCH, "target architecture")
	pflag.Parse()

	ctx := &BuildContext{
		Verbose: *verbose,
		GOOS:    *goos,
		GOARCH:  *goarch,
		Commit:  gitCommit(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	printInfo(fmt.Sprintf("%s build (%s/%s, commit %s)", module, ctx.GOOS, ctx.GOARCH, ctx.Commit))

	var err error
	switch *target {
	case "all":
		err = buildAll(ctx)
	case "server":
		err = buildExecutable("license-server", ctx)
	case "cli":
		err = buildExecutable("licensectl", ctx)
	case "test":
		err = runTests(ctx)
	case "release":
		err = buildRelease(ctx)
	case "clean":
		err = os.RemoveAll(outputDir)
	default:
		pflag.Usage()
		os.Exit(2)
	}

	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess("done")
}

func printInfo(msg string)    { fmt.Println("[INFO]", msg) }
func printSuccess(msg string) { fmt.Println("[OK]", msg) }
func printError(msg string)   { fmt.Fprintln(os.Stderr, "[ERROR]", msg) }

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func buildAll(ctx *BuildContext) error {
	for _, name := range []string{"license-server", "licensectl"} {
		if err := buildExecutable(name, ctx); err != nil {
			return err
		}
	}
	return nil
}

func buildExecutable(name string, ctx *BuildContext) error {
	pkg, ok := executables[name]
	if !ok {
		return fmt.Errorf("unknown executable %q", name)
	}

	binary := name
	if ctx.GOOS == "windows" {
		binary += ".exe"
	}
	out := filepath.Join(outputDir, ctx.GOOS+"-"+ctx.GOARCH, binary)

	ldflags := fmt.Sprintf("-s -w -X %[1]s/pkg/contracts.BuildTime=%[2]s -X %[1]s/pkg/contracts.GitCommit=%[3]s",
		module, ctx.Time, ctx.Commit)

	cmd := exec.Command("go", "build", "-trimpath", "-ldflags", ldflags, "-o", out, pkg)
	cmd.Env = append(os.Environ(), "GOOS="+ctx.GOOS, "GOARCH="+ctx.GOARCH, "CGO_ENABLED=0")
	if err := run(cmd, ctx.Verbose); err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}

	printSuccess("built " + out)
	return nil
}

func runTests(ctx *BuildContext) error {
	args := []string{"test", "-race", "-short"}
	if ctx.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")
	return run(exec.Command("go", args...), true)
}

func buildRelease(ctx *BuildContext) error {
	for _, p := range releasePlatforms {
		release := *ctx
		release.GOOS, release.GOARCH = p.goos, p.goarch
		if err := buildAll(&release); err != nil {
			return err
		}
	}
	return nil
}

func run(cmd *exec.Cmd, verbose bool) error {
	if verbose {
		printInfo(strings.Join(cmd.Args, " "))
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
