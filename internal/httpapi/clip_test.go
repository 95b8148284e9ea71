package httpapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = 100

	cases := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{name: "full explicit range", header: "bytes=0-99", wantStart: 0, wantEnd: 99},
		{name: "open-ended range", header: "bytes=10-", wantStart: 10, wantEnd: 99},
		{name: "interior range", header: "bytes=5-9", wantStart: 5, wantEnd: 9},
		{name: "suffix range", header: "bytes=-20", wantStart: 80, wantEnd: 99},
		{name: "end clamped to size", header: "bytes=90-500", wantStart: 90, wantEnd: 99},
		{name: "suffix longer than object", header: "bytes=-500", wantStart: 0, wantEnd: 99},
		{name: "start past end of object", header: "bytes=100-", wantErr: true},
		{name: "end before start", header: "bytes=50-40", wantErr: true},
		{name: "wrong unit", header: "chunks=0-10", wantErr: true},
		{name: "garbage", header: "bytes=abc-def", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, err := parseRange(tc.header, size)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantStart, start)
			require.Equal(t, tc.wantEnd, end)
		})
	}
}
