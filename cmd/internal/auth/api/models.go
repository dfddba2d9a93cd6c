package authapi

type issueRequest struct {
	IdentityAssertion string `json:"identity_assertion"`
	DeviceClass       string `json:"device_class,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type unlinkRequest struct {
	DeviceID string `json:"device_id"`
}

type issueResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
	UserEmail    string `json:"user_email"`
	UserName     string `json:"user_name"`
	UserPhotoURL string `json:"user_photo_url"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

type unlinkResponse struct {
	OK bool `json:"ok"`
}
