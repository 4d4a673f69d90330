package blob

import (
	"fmt"
	"strings"
)

// Address locates a path inside a bucket reached through a profile.
type Address struct {
	Profile string
	Bucket  string
	Path    string
}

// IsRemote reports whether an endpoint address names an object store.
// Local endpoints are always absolute paths.
func IsRemote(addr string) bool {
	return !strings.HasPrefix(addr, "/")
}

// ParseAddress parses "profile:bucket[/path]". Trailing slashes of the path
// are dropped.
func ParseAddress(addr string) (*Address, error) {
	profile, rest, ok := strings.Cut(addr, ":")
	if !ok || profile == "" {
		return nil, fmt.Errorf("invalid remote address %q: expected profile:bucket[/path]", addr)
	}

	bucket, path, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid remote address %q: missing bucket", addr)
	}

	return &Address{
		Profile: profile,
		Bucket:  bucket,
		Path:    strings.TrimRight(path, "/"),
	}, nil
}

// FullKey joins a key relative to the address path into a bucket key.
func (a *Address) FullKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if a.Path == "" {
		return key
	}
	return a.Path + "/" + key
}

// RelKey is the inverse of FullKey.
func (a *Address) RelKey(full string) string {
	full = strings.TrimPrefix(full, "/")
	if a.Path == "" {
		return full
	}
	return strings.TrimPrefix(full, a.Path+"/")
}

// Prefix returns the listing prefix for an include path relative to the
// address path. An empty include lists the whole address.
func (a *Address) Prefix(include string) string {
	if include == "" {
		if a.Path == "" {
			return ""
		}
		return a.Path + "/"
	}
	return a.FullKey(include)
}

func (a *Address) String() string {
	if a.Path == "" {
		return fmt.Sprintf("%s:%s", a.Profile, a.Bucket)
	}
	return fmt.Sprintf("%s:%s/%s", a.Profile, a.Bucket, a.Path)
}
