package rdb

import (
	"github.com/sirupsen/logrus"
)

// log is the package-wide structured logger. The engine has no semantic
// dependency on logging (spec.md §6): every call site here is diagnostic
// only, never a control-flow decision.
var log = logrus.StandardLogger()

// SetLogger replaces the package logger, letting an embedding application
// route engine diagnostics into its own logrus instance.
func SetLogger(l *logrus.Logger) {
	log = l
}

func pageFields(id GlobalPageID) logrus.Fields {
	return logrus.Fields{
		"db_id":   id.DBID,
		"page_id": uint32(id.PageID),
	}
}
