package verification

import "fmt"

// ResignPolicy decides whether an already signed authorization may be
// signed again.
type ResignPolicy string

const (
	// ResignReject refuses with ErrAlreadySigned.
	ResignReject ResignPolicy = "reject"
	// ResignReplace replaces the signature when the caller asks for it.
	ResignReplace ResignPolicy = "replace"
)

func ParseResignPolicy(s string) (ResignPolicy, error) {
	switch ResignPolicy(s) {
	case "", ResignReject:
		return ResignReject, nil
	case ResignReplace:
		return ResignReplace, nil
	default:
		return "", fmt.Errorf("unknown resign policy %q", s)
	}
}

func (p ResignPolicy) allows(requested bool) bool {
	return p == ResignReplace && requested
}
