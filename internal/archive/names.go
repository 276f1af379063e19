package archive

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"dicomdisc/internal/namemap"
	"dicomdisc/internal/services"
)

// Identifier limits of the level-1 directory records the image writer emits.
// A file identifier carries a ";1" version suffix inside its 30 characters.
const (
	maxDirectoryIdentifier = 31
	maxFileIdentifier      = 28
	maxExtension           = 8
	tokenSuffixLength      = 1 + 8
)

// ImagePaths assigns every staged slash path its path inside the image.
// Segments are folded to lowercase d-characters; a segment that is too long,
// or that folds onto a name already taken in its directory, keeps a prefix
// and ends in the identifier token of the full segment. Distinct staged paths
// always receive distinct image paths; an unresolvable clash is reported as
// services.ErrArchiveBuild. Names are assigned in sorted order, so the result
// does not depend on the order of files.
func ImagePaths(files []string) (map[string]string, error) {
	files = slices.Clone(files)
	slices.Sort(files)

	dirs := make(map[string]string) // staged directory -> image directory
	used := make(map[string]map[string]string)
	dirs[""] = ""

	assign := func(parentImage, segment string, isDir bool) (string, error) {
		taken := used[parentImage]
		if taken == nil {
			taken = make(map[string]string)
			used[parentImage] = taken
		}
		name, fits := imageName(segment, isDir)
		if owner, clash := taken[name]; !fits || (clash && owner != segment) {
			name = tokenName(segment, isDir)
			if owner, clash := taken[name]; clash && owner != segment {
				return "", services.Wrap(services.ErrArchiveBuild, "assembling", "name entries",
					fmt.Sprintf("%q and %q map to the same image name %q", owner, segment, name), nil)
			}
		}
		taken[name] = segment
		return name, nil
	}

	out := make(map[string]string, len(files))
	for _, file := range files {
		segments := strings.Split(file, "/")
		stagedDir := ""
		for _, seg := range segments[:len(segments)-1] {
			next := path.Join(stagedDir, seg)
			if _, ok := dirs[next]; !ok {
				name, err := assign(dirs[stagedDir], seg, true)
				if err != nil {
					return nil, err
				}
				dirs[next] = path.Join(dirs[stagedDir], name)
			}
			stagedDir = next
		}
		name, err := assign(dirs[stagedDir], segments[len(segments)-1], false)
		if err != nil {
			return nil, err
		}
		out[file] = path.Join(dirs[stagedDir], name)
	}
	return out, nil
}

// imageName folds segment to the identifier alphabet and reports whether the
// result fits without truncation.
func imageName(segment string, isDir bool) (string, bool) {
	if isDir {
		name := foldIdentifier(segment)
		return name, len(name) <= maxDirectoryIdentifier
	}
	base, ext := splitExtension(segment)
	limit := maxFileIdentifier
	if ext != "" {
		limit -= 1 + len(ext)
	}
	if len(ext) > maxExtension || len(base) > limit {
		return "", false
	}
	if ext == "" {
		return base, true
	}
	return base + "." + ext, true
}

func tokenName(segment string, isDir bool) string {
	token := namemap.MapIdentifier(segment)
	if isDir {
		return truncateIdentifier(foldIdentifier(segment), maxDirectoryIdentifier-tokenSuffixLength) + "_" + token
	}
	base, ext := splitExtension(segment)
	if len(ext) > maxExtension {
		ext = ext[:maxExtension]
	}
	limit := maxFileIdentifier - tokenSuffixLength
	if ext != "" {
		limit -= 1 + len(ext)
	}
	name := truncateIdentifier(base, limit) + "_" + token
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func splitExtension(segment string) (string, string) {
	if i := strings.LastIndexByte(segment, '.'); i > 0 {
		return foldIdentifier(segment[:i]), foldIdentifier(segment[i+1:])
	}
	return foldIdentifier(segment), ""
}

// foldIdentifier keeps lowercase letters, digits, '-' and '_'; everything
// else becomes '_'.
func foldIdentifier(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
}

func truncateIdentifier(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
