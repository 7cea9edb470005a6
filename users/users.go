package users

// MockUserID and MockUserName are the fixed identity every mock login yields.
const (
	MockUserID   = "1"
	MockUserName = "John Doe"
)

// User is the identity held by an authenticated session.
type User struct {
	ID    string `json:"id"`    // Unique identifier for the user
	Email string `json:"email"` // Email the user logged in with
	Name  string `json:"name"`  // Display name
}

// Mock returns the user a successful mock login produces for the given email.
// The email is taken as-is, no normalisation or validation is applied.
func Mock(email string) User {
	return User{
		ID:    MockUserID,
		Email: email,
		Name:  MockUserName,
	}
}
