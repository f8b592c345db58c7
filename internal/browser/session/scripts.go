// internal/browser/session/scripts.go
package session

// Function declarations called on remote objects with `this` bound to the
// element (or document / shadow root for queries).
const (
	jsQuerySelector = `function(sel) { return this.querySelector(sel); }`

	jsShadowRootOrSelf = `function() { return this.shadowRoot ? this.shadowRoot : this; }`

	// Matches the usual "visible" definition: rendered with a non-empty box
	// and not visibility:hidden.
	jsIsVisible = `function() {
		const el = this.nodeType === Node.TEXT_NODE ? this.parentElement : this;
		if (!el || !el.isConnected) return false;
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		return !!style && style.visibility !== 'hidden' && !!(rect.width || rect.height);
	}`

	jsIsConnected = `function() { return this.isConnected; }`

	jsIntersectsViewport = `function() {
		return new Promise(resolve => {
			const observer = new IntersectionObserver(entries => {
				resolve(entries[0].intersectionRatio > 0);
				observer.disconnect();
			});
			observer.observe(this);
		});
	}`

	jsScrollIntoViewCenter = `function() {
		this.scrollIntoView({block: 'center', inline: 'center', behavior: 'auto'});
	}`

	jsClickPoint = `function() {
		const rect = this.getBoundingClientRect();
		return {x: rect.left + rect.width / 2, y: rect.top + rect.height / 2, w: rect.width, h: rect.height};
	}`

	jsFocus = `function() { this.focus(); }`

	jsProperty = `function(name) {
		const v = this[name];
		return v === undefined || v === null ? '' : String(v);
	}`

	jsSetValueWithEvents = `function(value) {
		this.value = value;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`

	jsSelectOption = `function(value) {
		if (!(this instanceof HTMLSelectElement)) throw new Error('element is not a <select>');
		let matched = false;
		for (const option of this.options) {
			option.selected = option.value === value;
			if (option.selected) matched = true;
		}
		if (!matched) return false;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}`

	jsSelectOptionAt = `function(index) {
		if (!(this instanceof HTMLSelectElement)) throw new Error('element is not a <select>');
		const option = this.options[index];
		if (!option) return false;
		option.selected = true;
		this.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}`

	jsTextContent = `function() { return this.textContent || ''; }`
)
