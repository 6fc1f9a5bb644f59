// Package sunshine is a client for the Zendesk Sunshine Conversations v2 API.
//
// It covers the calls the bridge needs: user upsert, conversation
// create/update/list/delete, pass control, post message, post activity and
// attachment upload. Every non-2xx answer is returned as *APIError carrying
// the machine-readable codes from the response body, so callers branch on
// codes such as "conflict" rather than on HTTP status:
//
//	if sunshine.HasCode(err, sunshine.CodeConflict) {
//	    // user exists, update instead
//	}
//
// Retries and backoff are left to the caller.
package sunshine
