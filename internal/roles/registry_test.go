package roles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	hashCost = bcrypt.MinCost
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]User{
		{Username: "hr_anna", UserID: "1", Password: "anna-pass", Role: "HR", Department: "Human Resources"},
		{Username: "dm_mech", UserID: "2", Password: "mech-pass", Role: "Department Manager (M&E)", Department: "Mechanical & Electrical"},
		{Username: "dm_civil", UserID: "3", Role: "Department Manager (Civil)", Department: "Civil Works"},
		{Username: "dm_mech_site", UserID: "4", Role: "Department Manager (Mech Site)", Department: "Mechanical Site"},
		{Username: "disc_1", UserID: "5", Role: "Discipline Manager", Department: "Mechanical & Electrical"},
		{Username: "disc_2", UserID: "6", Role: "discipline manager", Department: "mechanical & electrical "},
		{Username: "disc_3", UserID: "7", Role: "Discipline Manager", Department: "Civil Works"},
		{Username: "ops", UserID: "8", Role: "Operation Manager"},
	})
	require.NoError(t, err)
	return r
}

func TestRoleOf(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, "HR", r.RoleOf("hr_anna"))
	assert.Equal(t, DefaultRole, r.RoleOf("nobody"))
}

func TestResolveDepartmentManagerNormalizedMatch(t *testing.T) {
	r := testRegistry(t)

	a, ok := r.ResolveDepartmentManager("Mechanical & Electrical")
	require.True(t, ok)
	b, ok := r.ResolveDepartmentManager("mechanical electrical")
	require.True(t, ok)

	assert.Equal(t, a, b)
	assert.Equal(t, "dm_mech", a.Username)
	assert.Equal(t, "Department Manager (M&E)", a.Role)
	assert.Equal(t, "2", a.UserID)
}

func TestResolveDepartmentManagerFirstTokenFallback(t *testing.T) {
	r := testRegistry(t)

	a, ok := r.ResolveDepartmentManager("civil structures")
	require.True(t, ok)
	assert.Equal(t, "dm_civil", a.Username)
}

func TestResolveDepartmentManagerFirstRegisteredFallback(t *testing.T) {
	r := testRegistry(t)

	a, ok := r.ResolveDepartmentManager("Finance")
	require.True(t, ok)
	assert.Equal(t, "dm_mech", a.Username)
}

func TestResolveDepartmentManagerNone(t *testing.T) {
	r, err := NewRegistry([]User{{Username: "hr", Role: "HR"}})
	require.NoError(t, err)

	_, ok := r.ResolveDepartmentManager("Civil Works")
	assert.False(t, ok)
}

func TestDisciplineManagers(t *testing.T) {
	r := testRegistry(t)

	got := r.DisciplineManagers("MECHANICAL & ELECTRICAL")
	require.Len(t, got, 2)
	assert.Equal(t, "disc_1", got[0].Username)
	assert.Equal(t, "disc_2", got[1].Username)
}

func TestAuthenticate(t *testing.T) {
	r := testRegistry(t)

	u, err := r.Authenticate("hr_anna", "anna-pass")
	require.NoError(t, err)
	assert.Equal(t, "HR", u.Role)
	assert.Empty(t, u.Password, "明文密码不应保留")

	_, err = r.Authenticate("hr_anna", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Authenticate("dm_civil", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Authenticate("ghost", "x")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]User{{Username: "a"}, {Username: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestLoadLegacyJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "userdata.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[
		{"username":"hr_anna","user_id":1,"password":"pw","role":"HR","department":"Human Resources"}
	]`), 0644))

	r, err := Load(jsonPath)
	require.NoError(t, err)
	u, ok := r.Lookup("hr_anna")
	require.True(t, ok)
	assert.Equal(t, "1", string(u.UserID))
	_, err = r.Authenticate("hr_anna", "pw")
	require.NoError(t, err)

	yamlPath := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
users:
  - username: ops
    user_id: 9
    role: Operation Manager
`), 0644))

	r, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Operation Manager", r.RoleOf("ops"))
	u, _ = r.Lookup("ops")
	assert.Equal(t, "9", string(u.UserID))
}

func TestNormalizeDepartment(t *testing.T) {
	assert.Equal(t, "rd", NormalizeDepartment("R&D "))
	assert.Equal(t, "mechanicalelectrical", NormalizeDepartment("Mechanical & Electrical"))
}
