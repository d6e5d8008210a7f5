package unx

// BaseName returns the last element of p.  Trailing separators are
// ignored.  BaseName of an empty path is ".", of a root path "/".
func BaseName(p string) string {
	if p == "" {
		return "."
	}

	end := len(p)
	for end > 0 && IsDirSep(p[end-1]) {
		end--
	}
	if end == 0 {
		return "/"
	}

	start := end
	for start > 0 && !IsDirSep(p[start-1]) {
		start--
	}
	return p[start:end]
}

// DirName returns all but the last element of p.
func DirName(p string) string {
	end := len(p)
	for end > 0 && IsDirSep(p[end-1]) {
		end--
	}
	for end > 0 && !IsDirSep(p[end-1]) {
		end--
	}
	if end == 0 {
		if p != "" && IsDirSep(p[0]) {
			return "/"
		}
		return "."
	}

	for end > 1 && IsDirSep(p[end-1]) {
		end--
	}
	return p[:end]
}

// HasDirSep reports whether p contains a directory separator.
func HasDirSep(p string) bool {
	for i := 0; i < len(p); i++ {
		if IsDirSep(p[i]) {
			return true
		}
	}
	return false
}
