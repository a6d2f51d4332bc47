package server

// Error codes sent back in ERR replies. Closed set: handlers never
// invent codes outside this list.
const (
	ErrCodeUnknownCommand      = "UnknownCommand"
	ErrCodeParseError          = "ParseError"
	ErrCodeNoHandlerForCommand = "NoHandlerForCommand"

	ErrCodeClientNotLoggedIn            = "ClientNotLoggedIn"
	ErrCodeInvalidCredentials           = "InvalidCredentials"
	ErrCodeAlreadyLoggedIn              = "AlreadyLoggedIn"
	ErrCodeUserAlreadyLoggedInElsewhere = "UserAlreadyLoggedInElsewhere"

	ErrCodeNoSuchUser    = "NoSuchUser"
	ErrCodeNotAFriend    = "NotAFriend"
	ErrCodeInvalidChatID = "InvalidChatID"
	ErrCodeNoSuchStatus  = "NoSuchStatus"

	ErrCodeInternalError = "InternalError"
)
