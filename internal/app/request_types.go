package app

// CreateUserRequest is the input for creating a login. Password is plaintext
// and never leaves the app layer unhashed.
type CreateUserRequest struct {
	Username    string
	Password    string
	Email       string
	Role        string
	CompanyCode string
}
