// Package openbabel implements the chem.Converter gateway by shelling out to
// the obabel command-line tool.
package openbabel

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/chemcloud/calcstore/internal/chem"
	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
)

// Converter shells out to obabel for conversions and identity derivation.
type Converter struct {
	cfg    config.GatewayConfig
	logger logging.Logger

	// run executes a command and returns stdout; overridable in tests.
	run func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// NewConverter constructs an obabel-backed Converter.
func NewConverter(cfg config.GatewayConfig, logger logging.Logger) *Converter {
	return &Converter{
		cfg:    cfg,
		logger: logger.Named("openbabel"),
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

func (c *Converter) obabel(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConvertTimeout)
	defer cancel()
	return c.run(ctx, stdin, c.cfg.OpenBabelPath, args...)
}

// Convert translates structure data between formats.
func (c *Converter) Convert(ctx context.Context, data []byte, from, to chem.Format, opts chem.ConvertOptions) ([]byte, error) {
	args := []string{"-i" + string(from), "-o" + string(to)}
	if opts.Gen3D {
		args = append(args,
			"--gen3d",
			"--ff", c.cfg.Gen3DForcefield,
			"--steps", strconv.Itoa(c.cfg.Gen3DSteps),
		)
	}

	out, err := c.obabel(ctx, data, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConversionFailed,
			"structure conversion failed").
			WithDetail(fmt.Sprintf("from=%s to=%s", from, to))
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, errors.New(errors.ErrCodeConversionFailed,
			"structure conversion produced no output").
			WithDetail(fmt.Sprintf("from=%s to=%s", from, to))
	}
	return out, nil
}

// CanonicalIdentity derives InChI, InChIKey, canonical SMILES, and the spaced
// molecular formula from structure data.  InChI derivation failure is a
// validation error: such structures are not storable.
func (c *Converter) CanonicalIdentity(ctx context.Context, data []byte, from chem.Format) (molecule.Identity, error) {
	var id molecule.Identity

	inchi, err := c.obabel(ctx, data, "-i"+string(from), "-oinchi")
	if err != nil || len(bytes.TrimSpace(inchi)) == 0 {
		return id, errors.New(errors.ErrCodeInChIDerivationFailed,
			"unable to derive InChI from structure").WithCause(err)
	}
	id.InChI = firstLine(inchi)

	key, err := c.obabel(ctx, data, "-i"+string(from), "-oinchi", "-xK")
	if err != nil || len(bytes.TrimSpace(key)) == 0 {
		return id, errors.New(errors.ErrCodeInChIDerivationFailed,
			"unable to derive InChIKey from structure").WithCause(err)
	}
	id.InChIKey = firstLine(key)

	// SMILES and formula are descriptive; their absence does not reject the
	// structure.
	if smi, err := c.obabel(ctx, data, "-i"+string(from), "-ocan"); err == nil {
		id.SMILES = firstToken(smi)
	} else {
		c.logger.Warn("smiles derivation failed", logging.Err(err))
	}
	if formula, err := c.formula(ctx, data, from); err == nil {
		id.Formula = formula
	} else {
		c.logger.Warn("formula derivation failed", logging.Err(err))
	}

	return id, nil
}

// formula derives the spaced molecular formula ("C 6 H 6") by converting to a
// report and spacing the Hill-order formula line.
func (c *Converter) formula(ctx context.Context, data []byte, from chem.Format) (string, error) {
	out, err := c.obabel(ctx, data, "-i"+string(from), "-otxt", "--append", "formula")
	if err != nil {
		return "", err
	}
	return SpaceFormula(lastToken(out)), nil
}

// AtomCount counts the atoms in the structure.  Chemical JSON is read
// directly; everything else converts to XYZ, whose first line carries the
// atom total.
func (c *Converter) AtomCount(ctx context.Context, data []byte, from chem.Format) (int, error) {
	if from == chem.FormatCJSON {
		doc, err := cjson.Parse(data)
		if err != nil {
			return 0, err
		}
		return doc.AtomCount(), nil
	}

	out, err := c.Convert(ctx, data, from, chem.FormatXYZ, chem.ConvertOptions{})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(firstLine(out))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeConversionFailed,
			"unable to read atom count").WithDetail("from=" + string(from))
	}
	return n, nil
}

// ToDocument converts structure data to a Chemical JSON document.
func (c *Converter) ToDocument(ctx context.Context, data []byte, from chem.Format) (cjson.Document, error) {
	raw, err := c.Convert(ctx, data, from, chem.FormatCJSON, chem.ConvertOptions{})
	if err != nil {
		return nil, err
	}
	return cjson.Parse(raw)
}

// Depict renders a 2D SVG depiction.
func (c *Converter) Depict(ctx context.Context, data []byte, from chem.Format) (string, error) {
	out, err := c.Convert(ctx, data, from, chem.FormatSVG, chem.ConvertOptions{})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// InferBonds derives connectivity from coordinates by round-tripping the
// document through obabel's bond perception and returning only the bonds
// block.
func (c *Converter) InferBonds(ctx context.Context, doc cjson.Document) (map[string]interface{}, error) {
	raw, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	out, err := c.obabel(ctx, raw, "-icjson", "-ocjson", "-b")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConversionFailed, "bond perception failed")
	}
	perceived, err := cjson.Parse(out)
	if err != nil {
		return nil, err
	}
	bonds, ok := perceived.Bonds()
	if !ok {
		return nil, errors.New(errors.ErrCodeConversionFailed,
			"bond perception produced no bonds block")
	}
	return bonds, nil
}

// SpaceFormula rewrites a compact Hill formula ("C6H6") in spaced form
// ("C 6 H 6") so per-element counts can be recovered by splitting on spaces.
func SpaceFormula(compact string) string {
	var sb strings.Builder
	runes := []rune(compact)
	for i, r := range runes {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r)
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i > 0 && !(runes[i-1] >= '0' && runes[i-1] <= '9') {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func firstToken(out []byte) string {
	fields := strings.Fields(firstLine(out))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func lastToken(out []byte) string {
	fields := strings.Fields(firstLine(out))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
