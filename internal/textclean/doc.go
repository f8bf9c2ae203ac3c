// Package textclean holds the small string cleaners the normalizer applies to
// free-text CSV cells: HTML to plain text, email cleanup, Unicode NFC and
// rune-safe truncation.
//
// Every function is total: bad input degrades to an empty string, never to an
// error, and callers treat "" as absent.
package textclean
