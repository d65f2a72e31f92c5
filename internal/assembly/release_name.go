package assembly

import (
	"fmt"
	"strings"

	"github.com/MartinPl0/art-tools/internal/fatal"
)

// ReleaseName derives the public release name for a non-stream assembly.
// Standard assemblies are named for the release itself (e.g. "4.14.7");
// candidates and customs hang off the minor release.
func ReleaseName(group string, releases map[string]any, name string) (string, error) {
	major, minor, err := MajorMinor(group)
	if err != nil {
		return "", err
	}
	switch TypeOf(releases, name) {
	case TypeStream:
		return "", fatal.Configf("stream assembly %q has no release name", name)
	case TypeCandidate:
		return fmt.Sprintf("%d.%d.0-%s", major, minor, name), nil
	case TypeCustom:
		return fmt.Sprintf("%d.%d.0-assembly.%s", major, minor, name), nil
	default:
		return name, nil
	}
}

// MajorMinor extracts the release version from a group name like
// "openshift-4.14".
func MajorMinor(group string) (int, int, error) {
	idx := strings.LastIndex(group, "-")
	if idx < 0 {
		return 0, 0, fatal.Configf("cannot determine version from group name %q", group)
	}
	var major, minor int
	if _, err := fmt.Sscanf(group[idx+1:], "%d.%d", &major, &minor); err != nil {
		return 0, 0, fatal.Configf("cannot determine version from group name %q", group)
	}
	return major, minor, nil
}
