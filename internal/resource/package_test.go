// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package resource

import (
	"encoding/base64"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/pkg/errutil"
)

func TestParsePackage(t *testing.T) {
	t.Run("object manifest", func(t *testing.T) {
		p, err := ParsePackage([]byte(`{
			"manifest": {"id": "demo", "name": "Demo", "version": "1.0.0"},
			"codeText": "function activate(ctx) end",
			"resources": {"a.svg": "PHN2Zy8+"}
		}`))
		require.NoError(t, err)
		m, err := p.ManifestBytes()
		require.NoError(t, err)
		assert.JSONEq(t, `{"id": "demo", "name": "Demo", "version": "1.0.0"}`, string(m))
		assert.Equal(t, "PHN2Zy8+", p.Resources["a.svg"])
	})

	t.Run("yaml manifest text", func(t *testing.T) {
		p, err := ParsePackage([]byte(`{"manifest": "id: demo\nname: Demo\n", "codeText": ""}`))
		require.NoError(t, err)
		m, err := p.ManifestBytes()
		require.NoError(t, err)
		assert.Equal(t, "id: demo\nname: Demo\n", string(m))
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := ParsePackage([]byte(`{"codeText": "x"}`))
		errutil.AssertErrorCode(t, err, CodePackageInvalid)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParsePackage([]byte(`manifest: {}`))
		errutil.AssertErrorCode(t, err, CodePackageInvalid)
	})
}

func TestFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"manifest.yaml":    {Data: []byte("id: demo\nmain: src/main.lua\n")},
		"src/main.lua":     {Data: []byte("function activate(ctx) end")},
		"assets/logo.svg":  {Data: []byte("<svg/>")},
		"README.md":        {Data: []byte("# Demo")},
		".git/config":      {Data: []byte("[core]")},
		"assets/.DS_Store": {Data: []byte{0}},
	}
	entry := func(_ []byte) (string, error) { return "src/main.lua", nil }

	p, err := FromFS(fsys, entry)
	require.NoError(t, err)
	assert.Equal(t, "function activate(ctx) end", p.CodeText)
	assert.Equal(t, map[string]string{
		"assets/logo.svg": base64.StdEncoding.EncodeToString([]byte("<svg/>")),
		"README.md":       base64.StdEncoding.EncodeToString([]byte("# Demo")),
	}, p.Resources)

	m, err := p.ManifestBytes()
	require.NoError(t, err)
	assert.Contains(t, string(m), "id: demo")
}

func TestFromFS_Errors(t *testing.T) {
	entry := func(_ []byte) (string, error) { return "main.lua", nil }

	_, err := FromFS(fstest.MapFS{"main.lua": {Data: []byte("")}}, entry)
	errutil.AssertErrorCode(t, err, CodePackageInvalid)

	_, err = FromFS(fstest.MapFS{"manifest.json": {Data: []byte(`{"id":"demo"}`)}}, entry)
	errutil.AssertErrorCode(t, err, CodePackageInvalid)
}

func TestInferMIME(t *testing.T) {
	tests := []struct {
		path string
		data []byte
		want string
	}{
		{"a.md", nil, "text/markdown"},
		{"a.MARKDOWN", nil, "text/markdown"},
		{"a.svg", nil, "image/svg+xml"},
		{"a.JPG", []byte{0xff, 0xd8}, "image/jpeg"},
		{"Makefile", []byte("all:\n"), "text/plain"},
		{"a.bmp", []byte{'B', 'M', 0}, ""},
		{"a.tiff", []byte{0xff, 0xfe, 0xfd}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferMIME(tt.path, tt.data), tt.path)
	}
	assert.True(t, IsText("text/markdown"))
	assert.True(t, IsText("image/svg+xml"))
	assert.False(t, IsText("image/png"))
}
