package cjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemcloud/calcstore/pkg/errors"
)

func vibDoc() Document {
	return Document{
		"vibrations": map[string]interface{}{
			"modes":       []interface{}{float64(7), float64(8), float64(9)},
			"frequencies": []interface{}{1632.2, 3780.1, 3899.5},
			"intensities": []interface{}{55.1, 2.3, 28.9},
			"eigenVectors": []interface{}{
				[]interface{}{0.1, 0.2, 0.3},
				[]interface{}{0.4, 0.5, 0.6},
				[]interface{}{0.7, 0.8, 0.9},
			},
		},
	}
}

func TestFromEnvelope_PrefersVersionedKey(t *testing.T) {
	payload := map[string]interface{}{
		KeyChemicalJSON: map[string]interface{}{"atoms": map[string]interface{}{}},
		KeyLegacy:       map[string]interface{}{"bonds": map[string]interface{}{}},
	}

	doc, err := FromEnvelope(payload)
	require.NoError(t, err)
	_, hasAtoms := doc["atoms"]
	assert.True(t, hasAtoms)
}

func TestFromEnvelope_LegacyFallback(t *testing.T) {
	payload := map[string]interface{}{
		KeyLegacy: map[string]interface{}{"atoms": map[string]interface{}{}},
	}

	doc, err := FromEnvelope(payload)
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestFromEnvelope_MissingIsRejected(t *testing.T) {
	_, err := FromEnvelope(map[string]interface{}{"other": 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeChemicalJSONInvalid))
}

func TestWhitelist_KeepsStructuralKeysAndVersion(t *testing.T) {
	doc := Document{
		KeyChemicalJSON: float64(1),
		"atoms":         map[string]interface{}{"elements": map[string]interface{}{}},
		"bonds":         map[string]interface{}{"order": []interface{}{}},
		"vibrations":    map[string]interface{}{},
		"properties":    map[string]interface{}{"energy": -76.4},
	}

	out := doc.Whitelist()
	assert.Len(t, out, 3)
	assert.Contains(t, out, "atoms")
	assert.Contains(t, out, "bonds")
	assert.Contains(t, out, KeyChemicalJSON)
}

func TestHasVersionKey(t *testing.T) {
	assert.True(t, Document{KeyChemicalJSON: float64(1)}.HasVersionKey())
	assert.True(t, Document{KeyLegacy: float64(0)}.HasVersionKey())
	assert.False(t, Document{"atoms": map[string]interface{}{}}.HasVersionKey())
}

func TestAtomCount(t *testing.T) {
	doc := Document{
		"atoms": map[string]interface{}{
			"elements": map[string]interface{}{
				"number": []interface{}{float64(8), float64(1), float64(1)},
			},
		},
	}
	assert.Equal(t, 3, doc.AtomCount())
	assert.Equal(t, 0, Document{}.AtomCount())
}

func TestElectronCount_ProbesInPrecedenceOrder(t *testing.T) {
	doc := Document{
		"orbitals": map[string]interface{}{"electronCount": float64(10)},
		"basisSet": map[string]interface{}{"electronCount": float64(99)},
	}
	n, ok := doc.ElectronCount()
	require.True(t, ok)
	assert.Equal(t, 10, n)

	delete(doc, "orbitals")
	n, ok = doc.ElectronCount()
	require.True(t, ok)
	assert.Equal(t, 99, n)

	doc["properties"] = map[string]interface{}{"electronCount": float64(12)}
	delete(doc, "basisSet")
	n, ok = doc.ElectronCount()
	require.True(t, ok)
	assert.Equal(t, 12, n)

	delete(doc, "properties")
	_, ok = doc.ElectronCount()
	assert.False(t, ok)
}

func TestVibrationSummary_ExcludesEigenvectors(t *testing.T) {
	sum, err := vibDoc().VibrationSummary()
	require.NoError(t, err)

	assert.Equal(t, []int{7, 8, 9}, sum.Modes)
	assert.Equal(t, []float64{1632.2, 3780.1, 3899.5}, sum.Frequencies)
	assert.Equal(t, []float64{55.1, 2.3, 28.9}, sum.Intensities)
	assert.Nil(t, sum.EigenVectors)
}

func TestResolveModeIndex_ByValueWhenModesPresent(t *testing.T) {
	doc := vibDoc()

	idx, err := doc.ResolveModeIndex(8)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = doc.ResolveModeIndex(42)
	assert.True(t, errors.IsCode(err, errors.ErrCodeVibrationalModeNotFound))
}

func TestResolveModeIndex_PositionalWithoutModes(t *testing.T) {
	doc := vibDoc()
	vib := doc["vibrations"].(map[string]interface{})
	delete(vib, "modes")

	idx, err := doc.ResolveModeIndex(2)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestVibrationAt_SlicesAllParallelArrays(t *testing.T) {
	mode, err := vibDoc().VibrationAt(1)
	require.NoError(t, err)

	assert.Equal(t, []int{8}, mode.Modes)
	assert.Equal(t, []float64{3780.1}, mode.Frequencies)
	assert.Equal(t, []float64{2.3}, mode.Intensities)
	require.Len(t, mode.EigenVectors, 1)
	assert.Equal(t, []float64{0.4, 0.5, 0.6}, mode.EigenVectors[0])
}

func TestVibrationAt_OutOfRange(t *testing.T) {
	_, err := vibDoc().VibrationAt(9)
	assert.True(t, errors.IsCode(err, errors.ErrCodeVibrationalModeNotFound))
}

func TestStripVibrations_LeavesOtherKeys(t *testing.T) {
	doc := vibDoc()
	doc["properties"] = map[string]interface{}{"energy": -1.0}

	doc.StripVibrations()
	assert.False(t, doc.HasVibrations())
	assert.Contains(t, doc, "properties")
}

func TestPlaceholderCube(t *testing.T) {
	cube := PlaceholderCube()
	assert.Equal(t, []int{0, 0, 0}, cube.Dimensions)
	assert.Empty(t, cube.Scalars)
	assert.NotNil(t, cube.Scalars)
}

func TestSetCube_RoundTrip(t *testing.T) {
	doc := Document{}
	doc.SetCube(&Cube{
		Dimensions: []int{2, 2, 2},
		Origin:     []float64{-1, -1, -1},
		Spacing:    []float64{1, 1, 1},
		Scalars:    []float64{0, 1, 2, 3, 4, 5, 6, 7},
	})

	block, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, block, "dimensions")
	assert.Contains(t, block, "origin")
	assert.Contains(t, block, "scalars")
}

func TestClone_IsIndependent(t *testing.T) {
	doc := vibDoc()
	clone := doc.Clone()

	clone.StripVibrations()
	assert.True(t, doc.HasVibrations())
	assert.False(t, clone.HasVibrations())
}
