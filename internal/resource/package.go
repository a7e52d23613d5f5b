// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package resource

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"path"

	"github.com/samber/oops"
)

// CodePackageInvalid marks a malformed package upload.
const CodePackageInvalid = "PACKAGE_INVALID"

// Manifest file names looked up by FromFS, in order.
var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// PackageFile is the transport form of an extension package: the manifest,
// the entry point's source text, and bundled files as base64.
type PackageFile struct {
	Manifest  json.RawMessage   `json:"manifest"`
	CodeText  string            `json:"codeText"`
	Resources map[string]string `json:"resources,omitempty"`
}

// ManifestBytes returns the manifest document. A JSON string manifest is
// treated as YAML or JSON text; an object is returned as-is.
func (p *PackageFile) ManifestBytes() ([]byte, error) {
	raw := bytes.TrimSpace(p.Manifest)
	if len(raw) == 0 {
		return nil, oops.In("resource").Code(CodePackageInvalid).Errorf("package has no manifest")
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, oops.In("resource").Code(CodePackageInvalid).Wrapf(err, "manifest string")
		}
		return []byte(text), nil
	}
	return raw, nil
}

// ParsePackage decodes a JSON package document.
func ParsePackage(data []byte) (*PackageFile, error) {
	var p PackageFile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, oops.In("resource").Code(CodePackageInvalid).Wrapf(err, "decode package")
	}
	if _, err := p.ManifestBytes(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FromFS builds a package from an unpacked extension directory. The
// manifest is read from manifest.yaml, manifest.yml or manifest.json, the
// code from entry, and every other regular file becomes a resource.
// Hidden files and directories are skipped.
func FromFS(fsys fs.FS, entry func(manifest []byte) (string, error)) (*PackageFile, error) {
	var manifest []byte
	var manifestName string
	for _, name := range manifestNames {
		data, err := fs.ReadFile(fsys, name)
		if err == nil {
			manifest, manifestName = data, name
			break
		}
	}
	if manifest == nil {
		return nil, oops.In("resource").Code(CodePackageInvalid).
			Hint("add a manifest.yaml to the extension directory").
			Errorf("no manifest found")
	}

	main, err := entry(manifest)
	if err != nil {
		return nil, err
	}
	code, err := fs.ReadFile(fsys, main)
	if err != nil {
		return nil, oops.In("resource").Code(CodePackageInvalid).With("main", main).Wrapf(err, "read entry point")
	}

	resources := make(map[string]string)
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := path.Base(p)
		if p != "." && len(base) > 0 && base[0] == '.' {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || p == manifestName || p == main {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		resources[p] = base64.StdEncoding.EncodeToString(data)
		return nil
	})
	if err != nil {
		return nil, oops.In("resource").Code(CodePackageInvalid).Wrapf(err, "walk package")
	}

	mjson, err := json.Marshal(string(manifest))
	if err != nil {
		return nil, oops.In("resource").Wrap(err)
	}
	return &PackageFile{Manifest: mjson, CodeText: string(code), Resources: resources}, nil
}
