/*
Package manifest parses the header block that every parser plugin carries.

The header is a run of comment lines delimited by ==UserScript== markers:

	// ==UserScript==
	// @name        Example
	// @type        example_pan
	// @displayName Example Pan
	// @match       https?://pan\.example\.com/s/(?<KEY>\w+)
	// ==/UserScript==

JavaScript plugins use "//" and Python plugins use "#" as the comment prefix.
The prefix of the opening marker fixes the plugin language. Parsing is a pure
function: it never touches the filesystem or any shared state.
*/
package manifest
