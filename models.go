package main

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/oauthapp/internal/oauth"
)

const maxFormMemory = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// clientRequest is the body of POST /clients.
type clientRequest struct {
	ClientID     string  `json:"client_id" validate:"required,max=255"`
	ClientSecret string  `json:"client_secret" validate:"required"`
	Scope        *string `json:"scope"`
}

// userRequest is the body of POST /users.
type userRequest struct {
	Username     string  `json:"username" validate:"required,max=255"`
	Password     string  `json:"password" validate:"required"`
	FullName     string  `json:"full_name" validate:"required"`
	NPM          string  `json:"npm" validate:"required,max=64"`
	ClientID     string  `json:"client_id" validate:"required"`
	ClientSecret string  `json:"client_secret" validate:"required"`
	Expires      *string `json:"expires"`
}

func (u userRequest) registration() oauth.UserRegistration {
	return oauth.UserRegistration{
		Username:     u.Username,
		Password:     u.Password,
		FullName:     u.FullName,
		NPM:          u.NPM,
		ClientID:     u.ClientID,
		ClientSecret: u.ClientSecret,
		Expires:      u.Expires,
	}
}

// tokenRequest is the body of POST /oauth/token. Credentials are only
// required for the password grant so other grant types reach the issuer and
// are rejected as unsupported.
type tokenRequest struct {
	GrantType    string `json:"grant_type" validate:"required"`
	ClientID     string `json:"client_id" validate:"required_if=GrantType password"`
	ClientSecret string `json:"client_secret" validate:"required_if=GrantType password"`
	Username     string `json:"username" validate:"required_if=GrantType password"`
	Password     string `json:"password" validate:"required_if=GrantType password"`
}

func (t tokenRequest) grant() oauth.TokenRequest {
	return oauth.TokenRequest{
		GrantType:    t.GrantType,
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		Username:     t.Username,
		Password:     t.Password,
	}
}

type clientResponse struct {
	ClientID string  `json:"client_id"`
	Scope    *string `json:"scope"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	NPM      string `json:"npm"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the wire names, e.g. "client_id" instead of "ClientID".
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest fills dst from a JSON, urlencoded or multipart body and
// validates it. Failures are reported as *requestError.
func (a *App) decodeRequest(r *http.Request, dst interface{}) error {
	if err := readBody(r, dst); err != nil {
		return invalidRequest("Invalid request body")
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return invalidRequest("Invalid request body")
		}
		var missing, invalid []string
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required", "required_if":
				missing = append(missing, fe.Field())
			default:
				invalid = append(invalid, fe.Field())
			}
		}
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "Missing required fields: "+strings.Join(missing, ", "))
		}
		if len(invalid) > 0 {
			parts = append(parts, "Invalid fields: "+strings.Join(invalid, ", "))
		}
		return invalidRequest(strings.Join(parts, "; "))
	}
	return nil
}

func readBody(r *http.Request, dst interface{}) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if r.Body == nil {
			return errInvalidBody
		}
		return json.NewDecoder(r.Body).Decode(dst)
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	if len(r.PostForm) == 0 {
		return errInvalidBody
	}
	// Form values are funneled through the JSON tags so both encodings share
	// one set of request structs.
	fields := make(map[string]string, len(r.PostForm))
	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields[k] = r.PostForm.Get(k)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func invalidRequest(description string) *requestError {
	return &requestError{description: description}
}
