package manifest

import "strings"

// VersionSlug turns a version such as "17.0" into "17-0" for use in object names.
func VersionSlug(version string) string {
	return strings.ReplaceAll(version, ".", "-")
}

// ProjectVolumeName names a volume private to one project.
func ProjectVolumeName(project, logical string) string {
	return project + "-" + logical
}

// SharedVolumeName names the read-only volume of a version directory entry.
func SharedVolumeName(entry, version string) string {
	return entry + "-" + VersionSlug(version)
}

// DatabaseName is the db_name of a project created at epoch (YYYYMMDDHHMMSS).
func DatabaseName(project, epoch string) string {
	return strings.ReplaceAll(project, "-", "_") + "_" + epoch
}
