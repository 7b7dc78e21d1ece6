// log.go - optional structured logging.
//
// Takes a logger at construction time rather than reaching for a
// package-global: a nil logger is valid and simply means "don't log"
// (discard logger), so tests never need to wire one up.
package iommu

import "github.com/sirupsen/logrus"

func nopLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func logOrNop(l *logrus.Logger) *logrus.Logger {
	if l == nil {
		return nopLogger()
	}
	return l
}
