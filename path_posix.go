//go:build !dosfilenames

package unx

// DOSFilenames reports whether '\\' is accepted as a directory
// separator.  Build with -tags dosfilenames to enable it.
const DOSFilenames = false

func IsDirSep(c byte) bool {
	return c == '/'
}
