package repoconfig

import (
	"fmt"
	"strings"
)

const originSection = "origin"

// Origin names the remote and branch a deployment tracks.
type Origin struct {
	Remote string
	Branch string
}

// ParseRefspec splits "<remote>:<branch>". A refspec with no remote part
// yields an empty Remote.
func ParseRefspec(refspec string) (Origin, error) {
	refspec = strings.TrimSpace(refspec)
	if refspec == "" {
		return Origin{}, fmt.Errorf("empty refspec")
	}
	remote, branch, ok := strings.Cut(refspec, ":")
	if !ok {
		return Origin{Branch: refspec}, nil
	}
	if branch == "" {
		return Origin{}, fmt.Errorf("refspec %q has no branch", refspec)
	}
	return Origin{Remote: remote, Branch: branch}, nil
}

func (o Origin) Refspec() string {
	if o.Remote == "" {
		return o.Branch
	}
	return o.Remote + ":" + o.Branch
}

// ReadOrigin returns the refspec recorded in a deployment origin file.
func ReadOrigin(path string) (Origin, error) {
	d, err := Load(path)
	if err != nil {
		return Origin{}, err
	}
	refspec, ok := d.Get(originSection, "refspec")
	if !ok {
		return Origin{}, fmt.Errorf("%s: no [origin] refspec", path)
	}
	return ParseRefspec(refspec)
}

// WriteOrigin points the origin file at o, keeping any other keys it holds.
func WriteOrigin(path string, o Origin) error {
	d, err := Load(path)
	if err != nil {
		return err
	}
	if err := d.Set(originSection, "refspec", o.Refspec()); err != nil {
		return err
	}
	return d.WriteFile(path)
}
