package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jobharness/internal/browser"
)

// locatorJS finds the first visible element matching a locator and stamps it
// with refAttr. It mirrors the user-facing locators of Playwright closely
// enough for form-driven journeys: labels via <label for>, wrapping labels
// and aria-label; roles via implicit HTML semantics plus explicit role=;
// text via the innermost element whose rendered text matches.
const locatorJS = `(function(q) {
  const norm = (s) => (s || "").replace(/\s+/g, " ").trim();
  const matches = (actual, want) => q.exact
    ? norm(actual) === norm(want)
    : norm(actual).toLowerCase().includes(norm(want).toLowerCase());
  const visible = (el) => {
    if (!el || !el.isConnected) return false;
    const style = window.getComputedStyle(el);
    if (style.visibility === "hidden" || style.display === "none") return false;
    return el.getClientRects().length > 0;
  };
  const implicitRoles = {
    button: 'button, input[type="submit"], input[type="button"], input[type="reset"], [role="button"]',
    link: 'a[href], [role="link"]',
    heading: 'h1, h2, h3, h4, h5, h6, [role="heading"]',
    textbox: 'input:not([type]), input[type="text"], input[type="email"], input[type="password"], textarea, [role="textbox"]',
    checkbox: 'input[type="checkbox"], [role="checkbox"]',
    listitem: 'li, [role="listitem"]',
  };
  const accessibleName = (el) => {
    const aria = el.getAttribute("aria-label");
    if (aria) return aria;
    if (el.tagName === "INPUT") return el.value || el.getAttribute("placeholder") || "";
    return el.innerText || el.textContent || "";
  };
  const byLabel = () => {
    const out = [];
    for (const label of document.querySelectorAll("label")) {
      if (!matches(label.innerText, q.name)) continue;
      let control = null;
      if (label.htmlFor) control = document.getElementById(label.htmlFor);
      if (!control) control = label.querySelector("input, textarea, select");
      if (control) out.push(control);
    }
    for (const el of document.querySelectorAll("[aria-label]")) {
      if (matches(el.getAttribute("aria-label"), q.name)) out.push(el);
    }
    return out;
  };
  const byPlaceholder = () => Array.from(document.querySelectorAll("[placeholder]"))
    .filter((el) => matches(el.getAttribute("placeholder"), q.name));
  const byRole = () => {
    const sel = implicitRoles[q.role] || ('[role="' + q.role + '"]');
    return Array.from(document.querySelectorAll(sel))
      .filter((el) => !q.name || matches(accessibleName(el), q.name));
  };
  const byText = () => {
    const all = Array.from(document.body ? document.body.querySelectorAll("*") : []);
    const hits = all.filter((el) => matches(el.innerText, q.name));
    // Keep the innermost matches only.
    return hits.filter((el) => !hits.some((other) => other !== el && el.contains(other)));
  };
  let candidates;
  switch (q.by) {
    case "label": candidates = byLabel(); break;
    case "placeholder": candidates = byPlaceholder(); break;
    case "role": candidates = byRole(); break;
    case "text": candidates = byText(); break;
    case "css": candidates = Array.from(document.querySelectorAll(q.name)); break;
    default: candidates = [];
  }
  const hit = candidates.find(visible);
  if (!hit) return false;
  hit.setAttribute(q.attr, q.ref);
  return true;
})(%s)`

type locatorQuery struct {
	By    string `json:"by"`
	Role  string `json:"role"`
	Name  string `json:"name"`
	Exact bool   `json:"exact"`
	Attr  string `json:"attr"`
	Ref   string `json:"ref"`
}

// locatorScript renders locatorJS for one lookup.
func locatorScript(loc browser.Locator, ref string) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	q, err := json.Marshal(locatorQuery{
		By:    string(loc.By),
		Role:  loc.Role,
		Name:  loc.Name,
		Exact: loc.Exact,
		Attr:  refAttr,
		Ref:   ref,
	})
	if err != nil {
		return "", fmt.Errorf("encode locator: %w", err)
	}
	return fmt.Sprintf(locatorJS, q), nil
}
