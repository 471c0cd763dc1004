package protocol

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Message
	}{
		{
			name: "cursor",
			in:   `{"type":"cursor","userId":"u1","name":"Ada","avatar":"https://a/1.png","x":10.5,"y":20,"color":"#f00"}`,
			want: Cursor{UserID: "u1", Name: "Ada", Avatar: "https://a/1.png", X: 10.5, Y: 20, Color: "#f00"},
		},
		{
			name: "presence",
			in:   `{"type":"presence","userId":"u2","name":"Bo","avatar":"","color":"#0f0"}`,
			want: Presence{UserID: "u2", Name: "Bo", Color: "#0f0"},
		},
		{
			name: "user left",
			in:   `{"type":"user-left","userId":"A"}`,
			want: UserLeft{UserID: "A"},
		},
		{
			name: "sync",
			in:   `{"type":"sync","users":3}`,
			want: Sync{Users: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_UnknownPassesThrough(t *testing.T) {
	for _, in := range []string{
		`{"type":"laser-pointer","x":1}`,
		`{"hello":"world"}`,
		`[1,2,3]`,
		`{"type":"cursor","x":"not a number"}`,
	} {
		got, err := Decode([]byte(in))
		require.NoError(t, err, in)
		u, ok := got.(Unknown)
		require.True(t, ok, "%s decoded as %T", in, got)
		assert.JSONEq(t, in, string(u.Raw))
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("not-json{"))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.False(t, Valid([]byte("not-json{")))
	assert.True(t, Valid([]byte(`{"type":"anything"}`)))
}

func TestEncode(t *testing.T) {
	b, err := Encode(UserLeft{UserID: "A"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user-left","userId":"A"}`, string(b))

	b, err = Encode(Sync{Users: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync","users":0}`, string(b))

	c := Cursor{UserID: "u1", Name: "Ada", X: 1, Y: 2, Color: "#fff"}
	b, err = Encode(c)
	require.NoError(t, err)
	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestFrame_MessageType(t *testing.T) {
	assert.Equal(t, websocket.BinaryMessage, BinaryFrame([]byte{1}).MessageType())
	assert.Equal(t, websocket.TextMessage, TextFrame([]byte("{}")).MessageType())
}
