package registry

import "github.com/marmos91/dittodrive/pkg/store/metadata"

// Folder is a root-level folder seeded at startup.
//
// Uploads need a folder the uploader holds create on, and folder CRUD is
// not exposed over HTTP, so operators declare the top of the tree here.
type Folder struct {
	Key    string
	Name   string
	FileID int64
}

// FolderConfig declares a root folder and the members that may use it.
type FolderConfig struct {
	Key    string
	Name   string
	Grants []GrantConfig
}

// GrantConfig gives MemberID Roles on the folder.
type GrantConfig struct {
	MemberID int64
	Roles    metadata.RoleSet
}
