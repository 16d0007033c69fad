package mi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultRecord(t *testing.T) {
	rec, err := Parse(`12^done,bkpt={number="1",type="breakpoint",file="launchEnvVars.cpp",line="28"}`)
	require.NoError(t, err)

	assert.True(t, rec.HasToken)
	assert.Equal(t, 12, rec.Token)
	assert.Equal(t, KindResult, rec.Kind)
	assert.Equal(t, "done", rec.Class)

	bkpt := rec.Results.Tuple("bkpt")
	require.NotNil(t, bkpt)
	assert.Equal(t, "launchEnvVars.cpp", bkpt.String("file"))
	line, ok := bkpt.Int("line")
	assert.True(t, ok)
	assert.Equal(t, 28, line)
}

func TestParseStoppedWithFrame(t *testing.T) {
	rec, err := Parse(`*stopped,reason="breakpoint-hit",disp="keep",bkptno="1",frame={addr="0x401136",func="main",args=[],file="a.cpp",fullname="/src/a.cpp",line="8"},thread-id="1",stopped-threads="all"`)
	require.NoError(t, err)

	assert.False(t, rec.HasToken)
	assert.Equal(t, KindExec, rec.Kind)
	assert.Equal(t, "stopped", rec.Class)
	assert.Equal(t, "breakpoint-hit", rec.Results.String("reason"))
	assert.Equal(t, "/src/a.cpp", rec.Results.Tuple("frame").String("fullname"))
	assert.Empty(t, rec.Results.Tuple("frame").List("args"))
}

func TestParseListOfResults(t *testing.T) {
	rec, err := Parse(`3^done,stack=[frame={level="0",func="kernel"},frame={level="1",func="main"}]`)
	require.NoError(t, err)

	frames := rec.Results.Tuples("stack")
	require.Len(t, frames, 2)
	assert.Equal(t, "kernel", frames[0].String("func"))
	assert.Equal(t, "main", frames[1].String("func"))
}

func TestParseListOfValues(t *testing.T) {
	rec, err := Parse(`4^done,register-names=["rax","rbx","","rcx"]`)
	require.NoError(t, err)

	assert.Equal(t, []string{"rax", "rbx", "", "rcx"}, rec.Results.Strings("register-names"))
}

func TestParseStreamRecords(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		text string
	}{
		{`~"block (0,0,0), thread (1,0,0)\n"`, KindConsole, "block (0,0,0), thread (1,0,0)\n"},
		{`@"program output"`, KindTarget, "program output"},
		{`&"warning: \"quoted\"\n"`, KindLog, "warning: \"quoted\"\n"},
		{`~"tab\there \101"`, KindConsole, "tab\there A"},
	}
	for _, tc := range cases {
		rec, err := Parse(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.kind, rec.Kind, tc.line)
		assert.Equal(t, tc.text, rec.Text, tc.line)
	}
}

func TestParseErrorRecord(t *testing.T) {
	rec, err := Parse(`7^error,msg="Undefined command: \"invalid-gdb-command\".  Try \"help\"."`)
	require.NoError(t, err)

	assert.Equal(t, "error", rec.Class)
	assert.Equal(t, `Undefined command: "invalid-gdb-command".  Try "help".`, rec.ErrorMessage())
}

func TestParsePromptAndProgramOutput(t *testing.T) {
	rec, err := Parse("(gdb) ")
	require.NoError(t, err)
	assert.Equal(t, KindPrompt, rec.Kind)

	_, err = Parse("ENV_VAR1=Value1")
	assert.ErrorIs(t, err, ErrNotMI)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrNotMI)
}

func TestParseRejectsTruncatedTuple(t *testing.T) {
	_, err := Parse(`^done,bkpt={number="1"`)
	assert.Error(t, err)
}

func TestQuoteRoundTripsThroughParser(t *testing.T) {
	for _, s := range []string{"plain", `with "quotes"`, `back\slash`, "multi\nline", "cuda block (0,0,0) thread (1,0,0)"} {
		rec, err := Parse("~" + Quote(s))
		require.NoError(t, err)
		assert.Equal(t, s, rec.Text)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	assert.Equal(t, "main", QuoteIfNeeded("main"))
	assert.Equal(t, `"/tmp/my prog"`, QuoteIfNeeded("/tmp/my prog"))
	assert.Equal(t, `""`, QuoteIfNeeded(""))
}

func TestConsole(t *testing.T) {
	assert.Equal(t, `-interpreter-exec console "set $x = 1"`, Console("set $x = 1"))
	assert.True(t, IsCommand("-break-insert main"))
	assert.False(t, IsCommand("set $x = 1"))
}
