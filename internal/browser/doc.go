// Package browser implements capture.Handle on top of a supervised browser.
//
// CDPFactory shares one DevTools connection across slots and gives every slot
// its own tab. OneShotFactory starts a fresh headless process per capture
// using the browser's built-in --screenshot switch.
package browser
