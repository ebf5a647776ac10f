package routes

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultResolvesLayoutRoutes(t *testing.T) {
	r := Default()
	want := map[string]string{
		"dashboard":         "/dashboard",
		"sensors":           "/sensors",
		"actuators":         "/actuators",
		"watering-schedule": "/watering-schedule",
		"statistics":        "/statistics",
		"profile.edit":      "/profile",
		"logout":            "/logout",
		"login":             "/login",
		"register":          "/register",
	}
	for name, path := range want {
		got, err := r.URL(name)
		require.NoError(t, err, name)
		assert.Equal(t, path, got)
	}

	logout, _ := r.Lookup("logout")
	assert.Equal(t, http.MethodPost, logout.Method)
}

func TestURLParams(t *testing.T) {
	r := NewRegistry()
	r.Add("actuators.toggle", "post", "/api/actuators/:key/toggle")

	u, err := r.URL("actuators.toggle", "key", "fans")
	require.NoError(t, err)
	assert.Equal(t, "/api/actuators/fans/toggle", u)

	_, err = r.URL("actuators.toggle")
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = r.URL("nope")
	assert.ErrorIs(t, err, ErrUnknownRoute)
	assert.Panics(t, func() { r.MustURL("nope") })
}

func TestCurrent(t *testing.T) {
	r := Default()
	assert.True(t, r.Current("sensors", "/sensors/"))
	assert.True(t, r.Current("statistics", "/statistics?range=30d"))
	assert.False(t, r.Current("dashboard", "/sensors"))

	name, ok := r.NameFor("/profile")
	require.True(t, ok)
	assert.Equal(t, "profile.edit", name)

	_, ok = r.NameFor("/logout")
	assert.False(t, ok, "logout is not a page")
}

func TestAllSorted(t *testing.T) {
	all := Default().All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
	assert.Equal(t, "/statistics", Default().Table()["statistics"])
}
