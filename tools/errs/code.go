package errs

// 通用错误码
const (
	NotAuthenticatedError     = 1001
	ForbiddenError            = 1002
	NotAParticipantError      = 1003
	InvalidContentError       = 1004
	InvalidArgumentError      = 1005
	ConversationNotFoundError = 1006
	NotFoundError             = 1007

	StoreUnavailableError = 1500
	SendFailedError       = 1501
	UploadFailedError     = 1502
	ServerInternalError   = 1599
)

var (
	ErrNotAuthenticated     = NewCodeError(NotAuthenticatedError, "not authenticated")
	ErrForbidden            = NewCodeError(ForbiddenError, "forbidden")
	ErrNotAParticipant      = NewCodeError(NotAParticipantError, "not a participant")
	ErrInvalidContent       = NewCodeError(InvalidContentError, "invalid content")
	ErrInvalidArgument      = NewCodeError(InvalidArgumentError, "invalid argument")
	ErrConversationNotFound = NewCodeError(ConversationNotFoundError, "conversation not found")
	ErrNotFound             = NewCodeError(NotFoundError, "not found")

	ErrStoreUnavailable = NewCodeError(StoreUnavailableError, "store unavailable")
	ErrSendFailed       = NewCodeError(SendFailedError, "send failed")
	ErrUploadFailed     = NewCodeError(UploadFailedError, "upload failed")
	ErrInternal         = NewCodeError(ServerInternalError, "server internal error")
)

// Recoverable reports whether the caller may retry the operation.
func Recoverable(err error) bool {
	switch ErrorCode(err) {
	case StoreUnavailableError, SendFailedError, UploadFailedError:
		return true
	}
	return false
}

func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternal.WrapMsg("panic", "recover", r)
}
