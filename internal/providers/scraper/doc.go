/*
Package scraper implements the html host module.

Plugins hand it page markup fetched through the network bridge and get
back text, attributes and form fields, selected by CSS (goquery) or
XPath (htmlquery). Sanitize and Text run bluemonday policies.

	const html = require('html');
	const token = html.attr(page, 'input#token', 'value');
*/
package scraper
