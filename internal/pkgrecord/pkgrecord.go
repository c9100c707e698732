// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pkgrecord defines the immutable data model: the
// package record as shipped by a repository snapshot, the installed record
// that augments it once merged onto the live filesystem, and the content
// tuple / dependency-kind vocabulary shared across the rest of the core.
//
// Grounded on golang-dep's types.go/orig_types.go for the "typed enum +
// immutable record" shape, with its field layout drawn from Sabayon
// Entropy's own installed/repository database schema.
package pkgrecord

// ID identifies a package record within one repository.
type ID int64

// RepositoryID identifies a configured repository.
type RepositoryID string

// DependencyKind classifies a dependency edge, carried alongside every
// dependency string.
type DependencyKind int

const (
	DepRuntime DependencyKind = iota
	DepBuild
	DepPost
	DepManual
)

func (k DependencyKind) String() string {
	switch k {
	case DepRuntime:
		return "runtime"
	case DepBuild:
		return "build"
	case DepPost:
		return "post"
	case DepManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ContentKind classifies one entry of a package's content inventory.
type ContentKind int

const (
	ContentFile ContentKind = iota
	ContentDir
	ContentSymlink
	ContentObj
)

// ContentEntry is one (path, kind) tuple of a package's content set.
type ContentEntry struct {
	Path string
	Kind ContentKind
}

// ELFClass distinguishes 32- vs 64-bit ELF objects for NEEDED/PROVIDE
// SONAME bookkeeping.
type ELFClass int

const (
	ELFClassUnknown ELFClass = iota
	ELFClass32
	ELFClass64
)

// Needed is one ELF NEEDED entry: a required SONAME plus the class of the
// object that requires it.
type Needed struct {
	SONAME string
	Class  ELFClass
}

// Dependency is one dependency-string edge tagged with its kind. The atom
// string is parsed lazily by callers via the atom package; pkgrecord keeps
// it as a string so this package has no dependency on the atom grammar.
type Dependency struct {
	Atom string
	Kind DependencyKind
}

// Provide is a PROVIDE alias, optionally flagged as the "default" provider
// of a legacy virtual.
type Provide struct {
	Name    string
	Default bool
}

// Scope is the identity/version tuple of "scope" group.
type Scope struct {
	Category string
	Name     string
	Version  string
	Tag      string
	Slot     string
	Revision int64
	Branch   string
	API      string
}

// Key returns the category/name identity, ignoring version/slot.
func (s Scope) Key() string {
	return s.Category + "/" + s.Name
}

// Artifact is the download/verification metadata.
type Artifact struct {
	DownloadPath string
	Size         int64
	OnDiskSize   int64
	DigestMD5    string
	SigSHA1      string
	SigSHA256    string
	SigSHA512    string
	OptionalGPG  []byte
}

// BuildMetadata carries the build/runtime metadata fields.
type BuildMetadata struct {
	CHOST    string
	CFLAGS   string
	CXXFLAGS string
	Use      map[string]bool
	Keywords []string
	License  []string
	Homepage string
	Description string
}

// Hooks carries the opaque pre/post script blobs and user-visible messages.
type Hooks struct {
	PreInstall   []byte
	PostInstall  []byte
	PreRemove    []byte
	PostRemove   []byte
	Messages     []string
}

// Record is the immutable package record, as read from a repository
// snapshot.
type Record struct {
	RepositoryID RepositoryID
	PackageID    ID

	Scope Scope

	Artifact Artifact
	Build    BuildMetadata

	Dependencies []Dependency
	Conflicts    []string // conflict atom strings ("!a/b")
	Provides     []Provide
	Needed       []Needed
	ProvidedSOs  []string
	Sources      []string
	Mirrors      []string

	Content []ContentEntry

	Hooks Hooks

	// Injected exempts this record from (key, slot) supersession.
	Injected bool
	// System marks a record that may not be the root of a removal plan
	// unless a sibling slot of the same key survives.
	System bool
}

// InstallSource records why a package ended up installed.
type InstallSource int

const (
	SourceUser InstallSource = iota
	SourceDependency
)

// AutomergeEvent is one config-protect diversion event: the installed
// registry keeps every diversion ever produced for a path, not just the
// latest md5.
type AutomergeEvent struct {
	Path       string
	SiblingPath string
	MD5        string
}

// InstalledRecord augments a Record with the installed-registry-only
// fields.
type InstalledRecord struct {
	Record

	InstalledFromRepository RepositoryID
	InstallSource           InstallSource

	// AutomergeMap is the current path->md5 map of unmodified configs.
	AutomergeMap map[string]string
	// AutomergeHistory is the ordered log of every diversion ever created
	// for this record, supplementing AutomergeMap.
	AutomergeHistory []AutomergeEvent
}

// KeySlot is the (key, slot) uniqueness tuple enforced on every install.
type KeySlot struct {
	Key  string
	Slot string
}
