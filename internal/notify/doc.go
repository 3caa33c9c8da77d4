// Package notify handles outbound transactional mail.
//
// The only message today is the password reset link, sent through the
// Resend API or logged in development.
package notify
