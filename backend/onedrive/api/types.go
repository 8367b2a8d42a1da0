// Package api provides types used by the OneDrive API.
package api

import (
	"strings"
	"time"
)

const (
	timeFormat = `"` + "2006-01-02T15:04:05.999Z" + `"`

	// PackageTypeOneNote is the package type value for OneNote files
	PackageTypeOneNote = "oneNote"
)

// Error is returned from OneDrive when things go wrong
type Error struct {
	ErrorInfo struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			Code string `json:"code"`
		} `json:"innererror"`
	} `json:"error"`
	StatusCode int `json:"-"`
}

// Error returns a string for the error and satisfies the error interface
func (e *Error) Error() string {
	out := e.ErrorInfo.Code
	if e.ErrorInfo.InnerError.Code != "" {
		out += ": " + e.ErrorInfo.InnerError.Code
	}
	out += ": " + e.ErrorInfo.Message
	return out
}

// Check Error satisfies the error interface
var _ error = (*Error)(nil)

// Identity represents an identity of an actor. For example, and actor
// can be a user, device, or application.
type Identity struct {
	DisplayName string `json:"displayName,omitempty"`
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
}

// IdentitySet is a keyed collection of Identity objects. It is used
// to represent a set of identities associated with various events for
// an item, such as created by or last modified by.
type IdentitySet struct {
	User        Identity `json:"user,omitempty"`
	Application Identity `json:"application,omitempty"`
}

// Quota groups storage space quota-related information on OneDrive into a single structure.
type Quota struct {
	Total     int64  `json:"total"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Deleted   int64  `json:"deleted"`
	State     string `json:"state"` // normal | nearing | critical | exceeded
}

// Drive is a representation of a drive resource
type Drive struct {
	ID        string      `json:"id"`
	DriveType string      `json:"driveType"`
	Owner     IdentitySet `json:"owner"`
	Quota     Quota       `json:"quota"`
}

// User is the signed in user
type User struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Timestamp represents date and time information for the
// OneDrive API, by using ISO 8601 and is always in UTC time.
type Timestamp time.Time

// MarshalJSON turns a Timestamp into JSON (in UTC)
func (t *Timestamp) MarshalJSON() (out []byte, err error) {
	timeString := (*time.Time)(t).UTC().Format(timeFormat)
	return []byte(timeString), nil
}

// UnmarshalJSON turns JSON into a Timestamp
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	newT, err := time.Parse(`"`+time.RFC3339+`"`, string(data))
	if err != nil {
		return err
	}
	*t = Timestamp(newT)
	return nil
}

// ItemReference groups data needed to reference a OneDrive item
// across the service into a single structure.
type ItemReference struct {
	DriveID   string `json:"driveId,omitempty"`
	ID        string `json:"id,omitempty"`
	Path      string `json:"path,omitempty"`
	DriveType string `json:"driveType,omitempty"`
}

// FolderFacet groups folder-related data on OneDrive into a single structure
type FolderFacet struct {
	ChildCount int64 `json:"childCount"`
}

// HashesType groups different types of hashes into a single structure, for an item on OneDrive.
type HashesType struct {
	Sha1Hash     string `json:"sha1Hash"`
	Crc32Hash    string `json:"crc32Hash"`
	QuickXorHash string `json:"quickXorHash"`
}

// FileFacet groups file-related data on OneDrive into a single structure.
type FileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   HashesType `json:"hashes"`
}

// FileSystemInfoFacet contains properties that are reported by the
// device's local file system for the local version of an item.
type FileSystemInfoFacet struct {
	CreatedDateTime      Timestamp `json:"createdDateTime,omitempty"`
	LastModifiedDateTime Timestamp `json:"lastModifiedDateTime,omitempty"`
}

// PackageType is the type of the package of an item
type PackageType struct {
	Type string `json:"type,omitempty"`
}

// Item represents metadata for an item in OneDrive
type Item struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	ETag                 string               `json:"eTag"`
	CTag                 string               `json:"cTag"`
	LastModifiedDateTime Timestamp            `json:"lastModifiedDateTime"`
	Size                 int64                `json:"size"`
	ParentReference      *ItemReference       `json:"parentReference"`
	Folder               *FolderFacet         `json:"folder"`
	File                 *FileFacet           `json:"file"`
	FileSystemInfo       *FileSystemInfoFacet `json:"fileSystemInfo"`
	Package              *PackageType         `json:"package"`
}

// IsFolder returns true if the item is a folder
func (i *Item) IsFolder() bool {
	return i.Folder != nil
}

// IsOneNote returns true if the item is a OneNote notebook, which
// is listed as a folder but can't be used as one
func (i *Item) IsOneNote() bool {
	return i.Package != nil && strings.EqualFold(i.Package.Type, PackageTypeOneNote)
}

// ModTime returns the modification time of the item, the one the
// client set if there is one
func (i *Item) ModTime() time.Time {
	if i.FileSystemInfo != nil {
		if t := time.Time(i.FileSystemInfo.LastModifiedDateTime); !t.IsZero() {
			return t
		}
	}
	return time.Time(i.LastModifiedDateTime)
}

// ListChildrenResponse is the response to the list children method
type ListChildrenResponse struct {
	Value    []Item `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// CreateItemRequest is the request to create an item object
type CreateItemRequest struct {
	Name             string      `json:"name"`
	Folder           FolderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"`
}

// MoveItemRequest is the request to move an item object
type MoveItemRequest struct {
	ParentReference *ItemReference `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

// SetFileSystemInfo is used to update an object's info
type SetFileSystemInfo struct {
	FileSystemInfo FileSystemInfoFacet `json:"fileSystemInfo"`
}

// CreateUploadRequest is used by CreateUploadSession to set the dates correctly
type CreateUploadRequest struct {
	Item struct {
		ConflictBehavior string              `json:"@microsoft.graph.conflictBehavior"`
		FileSystemInfo   FileSystemInfoFacet `json:"fileSystemInfo"`
	} `json:"item"`
}

// CreateUploadResponse is the response from creating an upload session
type CreateUploadResponse struct {
	UploadURL          string    `json:"uploadUrl"`
	ExpirationDateTime Timestamp `json:"expirationDateTime"`
}

// UploadFragmentResponse is the response from uploading a fragment
type UploadFragmentResponse struct {
	ExpirationDateTime Timestamp `json:"expirationDateTime"`
	NextExpectedRanges []string  `json:"nextExpectedRanges"`
}
