package models

// User is a bidding participant. Identity is asserted by the client and
// scoped into the channel token; there is no account store.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DemoUsers are the identities offered by the demo login screen.
var DemoUsers = []User{
	{ID: "user-42", Name: "Jane Smith"},
	{ID: "user-123", Name: "John Doe"},
	{ID: "user-456", Name: "Alice Johnson"},
}

// FindDemoUser returns the demo user with the given id.
func FindDemoUser(id string) (User, bool) {
	for _, u := range DemoUsers {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}
