package registry

import (
	"strings"

	"github.com/ruteri/artifact-repository-backend/interfaces"
)

// DefaultExtension is used for coordinates that do not name one.
const DefaultExtension = "jar"

// ToStoragePath maps a coordinate onto the Maven repository layout:
//
//	com.acme:lib:1.0             -> com/acme/lib/1.0/lib-1.0.jar
//	com.acme:lib:pom:1.0         -> com/acme/lib/1.0/lib-1.0.pom
//	com.acme:lib:jar:sources:1.0 -> com/acme/lib/1.0/lib-1.0-sources.jar
//
// File coordinates are parsed as repository-relative paths. Any traversal
// attempt fails with ErrInvalidPath.
func ToStoragePath(coordinate interfaces.Coordinate) (interfaces.StoragePath, error) {
	if !coordinate.IsGAV() {
		p, err := interfaces.ParsePath(coordinate.File)
		if err != nil {
			return interfaces.StoragePath{}, err
		}
		if p.IsRoot() {
			return interfaces.StoragePath{}, interfaces.InvalidPath("empty file path")
		}
		return p, nil
	}

	if coordinate.GroupID == "" || coordinate.ArtifactID == "" || coordinate.Version == "" {
		return interfaces.StoragePath{}, interfaces.InvalidPath("incomplete coordinate %q", coordinate)
	}

	extension := coordinate.Extension
	if extension == "" {
		extension = DefaultExtension
	}

	fileName := coordinate.ArtifactID + "-" + coordinate.Version
	if coordinate.Classifier != "" {
		fileName += "-" + coordinate.Classifier
	}
	fileName += "." + extension

	segments := strings.Split(coordinate.GroupID, ".")
	segments = append(segments, coordinate.ArtifactID, coordinate.Version, fileName)

	p, err := interfaces.PathFromSegments(segments...)
	if err != nil {
		return interfaces.StoragePath{}, interfaces.InvalidPath("invalid coordinate %q", coordinate)
	}
	return p, nil
}
