package visual

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davidthor/taskgraph/pkg/engine/serializer"
	"github.com/davidthor/taskgraph/pkg/graph"
)

// DefaultMermaidCLI is the mermaid-cli executable used when
// ImageOptions.Command is empty. Install it with:
//
//	npm install -g @mermaid-js/mermaid-cli
const DefaultMermaidCLI = "mmdc"

// RenderImage draws a deployment graph as a PNG.
func RenderImage(ctx context.Context, g *graph.DeploymentGraph, opts ImageOptions) ([]byte, error) {
	text, err := RenderMermaid(g, opts.MermaidOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mermaid diagram: %w", err)
	}
	return RenderMermaidToImage(ctx, text, opts)
}

// RenderPlanImage draws the per-node fragments of an execution plan as a PNG.
func RenderPlanImage(ctx context.Context, plan serializer.ExecutionPlan, planOpts PlanOptions, opts ImageOptions) ([]byte, error) {
	text, err := RenderPlanMermaid(plan, planOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mermaid diagram: %w", err)
	}
	return RenderMermaidToImage(ctx, text, opts)
}

// RenderMermaidToImage runs mermaid-cli over raw Mermaid text and returns the
// PNG bytes. mermaid-cli only works on files, so the text goes through a
// scratch directory that is removed afterwards.
func RenderMermaidToImage(ctx context.Context, mermaidText string, opts ImageOptions) ([]byte, error) {
	command := opts.Command
	if command == "" {
		command = DefaultMermaidCLI
	}
	cliPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("mermaid-cli (%s) is not installed or not on $PATH\n\n"+
			"Install it with:\n"+
			"  npm install -g @mermaid-js/mermaid-cli\n\n"+
			"Alternatively, use mermaid output to get the raw diagram text.", command)
	}

	tmpDir, err := os.MkdirTemp("", "taskgraph-mermaid-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputFile := filepath.Join(tmpDir, "input.mmd")
	outputFile := filepath.Join(tmpDir, "output.png")
	if err := os.WriteFile(inputFile, []byte(mermaidText), 0644); err != nil {
		return nil, fmt.Errorf("failed to write mermaid input: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cliPath, mermaidArgs(inputFile, outputFile, opts)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", command, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", command, err)
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered image: %w", err)
	}
	return data, nil
}

func mermaidArgs(inputFile, outputFile string, opts ImageOptions) []string {
	theme := opts.Theme
	if theme == "" {
		theme = "default"
	}
	args := []string{"-i", inputFile, "-o", outputFile, "-e", "png", "-t", theme}
	if opts.Width > 0 {
		args = append(args, "-w", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		args = append(args, "-H", strconv.Itoa(opts.Height))
	}
	return args
}
