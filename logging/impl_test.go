package logging

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[3], test.ShouldEqual, expectedParts[3])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 4 {
		return
	}

	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[4]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[4]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("", DEBUG, false, NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459-0400	INFO	logging/impl_test.go:67	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764-0400	INFO	logging/impl_test.go:131	impl infof log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806-0400	INFO	logging/impl_test.go:132	impl logw	{"key":"value"}`)

	logger.Debugw("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	DEBUG	logging/impl_test.go:123	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	// a dangling key is reported on its own line and the entry is still written
	logger.Warnw("unpaired", "lonely")
	complaint, err := notStdout.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, complaint, test.ShouldContainSubstring, "ERROR")
	test.That(t, complaint, test.ShouldContainSubstring, `{"ignored":"lonely"}`)
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	WARN	logging/impl_test.go:123	unpaired`)
}

func TestLevelFiltering(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("", WARN, false, NewWriterAppender(notStdout))

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("kept")
	test.That(t, notStdout.Len(), test.ShouldBeGreaterThan, 0)

	notStdout.Reset()
	logger.SetLevel(DEBUG)
	logger.Debug("kept")
	test.That(t, notStdout.Len(), test.ShouldBeGreaterThan, 0)
}

func TestGlobalDebugOpensEveryLogger(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("", ERROR, false, NewWriterAppender(notStdout))

	GlobalLogLevel.SetLevel(zapcore.DebugLevel)
	defer GlobalLogLevel.SetLevel(zapcore.InfoLevel)
	logger.Debugf("point cloud %d", 4)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459-0400	DEBUG	logging/impl_test.go:99	point cloud 4`)

	GlobalLogLevel.SetLevel(zapcore.InfoLevel)
	logger.Warn("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
}

func TestSublogAndAsZapReportCaller(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Sublogger("plant").Infow("stored", "points", 8)
	logger.AsZap().Info("direct")

	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	for _, entry := range entries {
		test.That(t, entry.Caller.Defined, test.ShouldBeTrue)
		test.That(t, entry.Caller.TrimmedPath(), test.ShouldStartWith, "logging/impl_test.go:")
	}
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "plant")
	test.That(t, entries[0].ContextMap()["points"], test.ShouldEqual, int64(8))
}

func TestAsZapSharesAppenders(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.AsZap().With("channel", "points").Infow("received", "count", 3)

	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].Message, test.ShouldEqual, "received")
	test.That(t, entries[0].ContextMap()["channel"], test.ShouldEqual, "points")
	test.That(t, entries[0].ContextMap()["count"], test.ShouldEqual, int64(3))

	logger.SetLevel(ERROR)
	logger.AsZap().Info("dropped")
	test.That(t, observed.Len(), test.ShouldEqual, 1)
}

func TestSubloggerNaming(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("plant").Sublogger("points")
	test.That(t, sub.Name(), test.ShouldEqual, "plant.points")

	sub.Warn("stale")
	test.That(t, observed.FilterLevelExact(zapcore.WarnLevel).Len(), test.ShouldEqual, 1)
	test.That(t, observed.All()[0].LoggerName, test.ShouldEqual, "plant.points")
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"error"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, ERROR)
}
