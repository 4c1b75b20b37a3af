package control

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/agentfs/internal/codec"
	"github.com/marmos91/agentfs/pkg/metadata"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("label", validateLabel); err != nil {
		panic("control: register label validation: " + err.Error())
	}
	validate.RegisterStructValidation(validateOperation, Request{})
}

// validateLabel accepts snapshot and branch names: at most MaxNameLen
// bytes, no '/' and no NUL.
func validateLabel(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) <= metadata.MaxNameLen && !strings.ContainsAny(s, "/\x00")
}

// validateOperation rejects payload fields that do not belong to the op
// and requires the ones that do.
func validateOperation(sl validator.StructLevel) {
	req := sl.Current().Interface().(Request)

	reject := func(set bool, field any, name string) {
		if set {
			sl.ReportError(field, name, name, "excluded", req.Op)
		}
	}

	switch req.Op {
	case OpSnapshotCreate:
		reject(req.From != "", req.From, "From")
		reject(req.Branch != "", req.Branch, "Branch")
		reject(req.PID != 0, req.PID, "PID")
	case OpSnapshotList:
		reject(req.Name != "", req.Name, "Name")
		reject(req.From != "", req.From, "From")
		reject(req.Branch != "", req.Branch, "Branch")
		reject(req.PID != 0, req.PID, "PID")
	case OpBranchCreate:
		reject(req.Branch != "", req.Branch, "Branch")
		reject(req.PID != 0, req.PID, "PID")
	case OpBranchBind:
		if req.Branch == "" {
			sl.ReportError(req.Branch, "Branch", "Branch", "required", req.Op)
		}
		reject(req.Name != "", req.Name, "Name")
		reject(req.From != "", req.From, "From")
	}
}

// Validate checks a request against the protocol rules.
func Validate(req *Request) error {
	if req == nil {
		return metadata.NewError(metadata.ErrInvalidArgument, "", "nil request")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors into an invalid-argument
// error naming the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		if e.Tag() == "excluded" {
			return metadata.NewError(metadata.ErrInvalidArgument, "",
				"%s: not allowed for %v", strings.ToLower(e.Field()), e.Param())
		}
		return metadata.NewError(metadata.ErrInvalidArgument, "",
			"%s: validation failed on '%s' tag (value: %v)", strings.ToLower(e.Field()), e.Tag(), e.Value())
	}
	return metadata.WrapError(metadata.ErrInvalidArgument, "", err, "invalid request")
}

// DecodeRequest parses and validates a request. Every failure is an
// invalid-argument error.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) == 0 {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "", "empty request")
	}
	var req Request
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, metadata.WrapError(metadata.ErrInvalidArgument, "", err, "malformed request")
	}
	if err := Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeRequest validates and encodes a request.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	data, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := codec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Version != Version {
		return nil, fmt.Errorf("decode response: unsupported version %d", resp.Version)
	}
	return &resp, nil
}

// EncodeResponse encodes a response.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := codec.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

// Err converts a failed response into an error carrying its code.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return fmt.Errorf("control: request failed without error details")
	}
	return fmt.Errorf("control: %s: %s", r.Error.Code, r.Error.Message)
}
