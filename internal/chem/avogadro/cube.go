// Package avogadro implements the chem.CubeComputer gateway by shelling out
// to the avogadro command-line tool, which evaluates a molecular orbital from
// a calculation's basis-set data on a volumetric grid.
package avogadro

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
)

// Computer shells out to avogadro for orbital cube evaluation.
type Computer struct {
	cfg    config.GatewayConfig
	logger logging.Logger

	run func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// NewComputer constructs an avogadro-backed cube computer.
func NewComputer(cfg config.GatewayConfig, logger logging.Logger) *Computer {
	return &Computer{
		cfg:    cfg,
		logger: logger.Named("avogadro"),
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ComputeCube evaluates orbital mo of the calculation document on a grid.
// The document is fed to avogadro as Chemical JSON on stdin; the tool returns
// the same document with a populated cube block, from which only the cube is
// extracted.
func (c *Computer) ComputeCube(ctx context.Context, doc cjson.Document, mo int) (*cjson.Cube, error) {
	if mo < 0 {
		return nil, errors.InvalidParam("orbital index must be non-negative").
			WithDetail("mo=" + strconv.Itoa(mo))
	}

	raw, err := doc.Marshal()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CubeTimeout)
	defer cancel()

	out, err := c.run(ctx, raw, c.cfg.AvogadroPath,
		"--cube", "--orbital", strconv.Itoa(mo), "--format", "cjson")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCubeComputationFailed,
			"orbital cube computation failed").
			WithDetail("mo=" + strconv.Itoa(mo))
	}

	result, err := cjson.Parse(out)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCubeComputationFailed,
			"cube output is not valid chemical JSON")
	}
	cube, err := extractCube(result)
	if err != nil {
		return nil, err
	}
	return cube, nil
}

func extractCube(doc cjson.Document) (*cjson.Cube, error) {
	block, ok := doc["cube"].(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrCodeCubeComputationFailed,
			"cube output has no cube block")
	}

	cube := &cjson.Cube{}
	for _, e := range toSlice(block["dimensions"]) {
		if n, ok := e.(float64); ok {
			cube.Dimensions = append(cube.Dimensions, int(n))
		}
	}
	for _, e := range toSlice(block["origin"]) {
		if n, ok := e.(float64); ok {
			cube.Origin = append(cube.Origin, n)
		}
	}
	for _, e := range toSlice(block["spacing"]) {
		if n, ok := e.(float64); ok {
			cube.Spacing = append(cube.Spacing, n)
		}
	}
	scalars := toSlice(block["scalars"])
	cube.Scalars = make([]float64, 0, len(scalars))
	for _, e := range scalars {
		if n, ok := e.(float64); ok {
			cube.Scalars = append(cube.Scalars, n)
		}
	}

	if len(cube.Dimensions) != 3 {
		return nil, errors.New(errors.ErrCodeCubeComputationFailed,
			"cube output has malformed dimensions")
	}
	return cube, nil
}

func toSlice(v interface{}) []interface{} {
	arr, _ := v.([]interface{})
	return arr
}
