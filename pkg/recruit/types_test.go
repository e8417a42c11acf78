package recruit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDList_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     interface{}
		want    IDList
		wantErr bool
	}{
		{name: "nil", src: nil, want: IDList{}},
		{name: "empty string", src: "", want: IDList{}},
		{name: "empty array", src: "[]", want: IDList{}},
		{name: "null", src: "null", want: IDList{}},
		{name: "string", src: "[1, 2, 3]", want: IDList{1, 2, 3}},
		{name: "bytes", src: []byte("[123456789012345678]"), want: IDList{123456789012345678}},
		{name: "not json", src: "1,2", wantErr: true},
		{name: "unsupported type", src: int64(4), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l IDList
			err := l.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, l)
		})
	}
}

func TestIDList_String(t *testing.T) {
	assert.Equal(t, "[]", IDList(nil).String())
	assert.Equal(t, "[]", IDList{}.String())
	assert.Equal(t, "[5,6]", IDList{5, 6}.String())

	v, err := IDList{7}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[7]", v)
}

func TestParseIDList(t *testing.T) {
	l, err := ParseIDList(" [10, 20] ")
	require.NoError(t, err)
	assert.Equal(t, IDList{10, 20}, l)

	l, err = ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, l)

	_, err = ParseIDList(`["10"]`)
	assert.ErrorIs(t, err, ErrInvalidRecruit)

	_, err = ParseIDList("[0]")
	assert.ErrorIs(t, err, ErrInvalidRecruit)

	_, err = ParseIDList("{}")
	assert.ErrorIs(t, err, ErrInvalidRecruit)
}

func TestChanges_Validate(t *testing.T) {
	valid := Changes{DateS: "2025/01/31 19:00", Place: "Room A", MaxPeople: 2, Participants: IDList{1, 2}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Changes)
	}{
		{"empty date", func(c *Changes) { c.DateS = " " }},
		{"bad date", func(c *Changes) { c.DateS = "2025-01-31 19:00" }},
		{"empty place", func(c *Changes) { c.Place = "" }},
		{"zero max people", func(c *Changes) { c.MaxPeople = 0 }},
		{"too many participants", func(c *Changes) { c.Participants = IDList{1, 2, 3} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidRecruit)
		})
	}
}

func TestRecruit_MemberIDs(t *testing.T) {
	r := Recruit{Participants: IDList{3, 1}, Mentors: IDList{1, 9}}
	assert.Equal(t, []int64{3, 1, 9}, r.MemberIDs())
	assert.Empty(t, Recruit{}.MemberIDs())
}
