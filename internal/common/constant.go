// Package common contains shared constants and sentinel errors used across
// dirkeeper components.
package common

import "time"

// AuthorizationHeaderName carries the session token as "Bearer <jwt>".
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the session token in the Authorization header.
const BearerPrefix = "Bearer "

// DirKeySize is the length of the directory key and of every wrapping key (AES-256).
const DirKeySize = 32

// PresignTTL is how long a presigned blob URL stays valid.
const PresignTTL = 15 * time.Minute
