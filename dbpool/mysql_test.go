package dbpool

import "testing"

func TestMySQLDSNReadOnly(t *testing.T) {
	cases := []struct {
		name string
		path string
		mode AccessMode
		want string
	}{
		{
			name: "read-write passes through",
			path: "user:pw@tcp(localhost:3306)/parus",
			mode: ModeReadWrite,
			want: "user:pw@tcp(localhost:3306)/parus",
		},
		{
			name: "read-only appends session variable",
			path: "user:pw@tcp(localhost:3306)/parus",
			mode: ModeReadOnly,
			want: "user:pw@tcp(localhost:3306)/parus?transaction_read_only=1",
		},
		{
			name: "read-only with existing params",
			path: "user:pw@tcp(localhost:3306)/parus?parseTime=true",
			mode: ModeReadOnly,
			want: "user:pw@tcp(localhost:3306)/parus?parseTime=true&transaction_read_only=1",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := mysqlDSN(c.path, c.mode); got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}
