//go:build dosfilenames

package unx

const DOSFilenames = true

func IsDirSep(c byte) bool {
	return c == '/' || c == '\\'
}
