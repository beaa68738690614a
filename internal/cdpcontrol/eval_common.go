package cdpcontrol

import "encoding/json"

// refAttr tags nodes matched by a probe so later calls can find them again
// without re-running the XPath.
const refAttr = "data-chartshot-ref"

// jsRefHelper provides _byRef(ref), resolving a tagged node or failing with a
// STALE_ELEMENT envelope when the page re-rendered it away.
const jsRefHelper = `
function _byRef(ref) {
  var el = document.querySelector("[` + refAttr + `=\"" + ref + "\"]");
  if (!el) throw {code:"` + CodeStaleElement + `", message:"element " + ref + " is no longer attached"};
  return el;
}
`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// wrapJSEval wraps body in an IIFE whose result is always a JSON envelope.
// Thrown {code, message} objects keep their code.
func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
if (err && err.code) return JSON.stringify({ok:false,error_code:err.code,error_message:String(err.message)});
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

// jsProbe evaluates an XPath and tags every element match with
// "<prefix>-<i>". With visible set, nodes without a rendered box are skipped.
func jsProbe(xpath, prefix string, visible bool) string {
	vis := "false"
	if visible {
		vis = "true"
	}
	return wrapJSEval(`
var snap = document.evaluate(` + jsString(xpath) + `, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
var refs = []; var texts = [];
for (var i = 0; i < snap.snapshotLength; i++) {
  var n = snap.snapshotItem(i);
  if (!(n instanceof Element)) continue;
  if (` + vis + `) {
    var r = n.getBoundingClientRect();
    if (!(r.width > 0 && r.height > 0)) continue;
    var st = window.getComputedStyle(n);
    if (st.visibility === "hidden" || st.display === "none") continue;
  }
  var ref = ` + jsString(prefix) + ` + "-" + refs.length;
  n.setAttribute("` + refAttr + `", ref);
  refs.push(ref);
  texts.push(String(n.textContent || ""));
}
return JSON.stringify({ok:true,data:{refs:refs,texts:texts}});`)
}

// jsElementBox scrolls the element into view and returns its box.
func jsElementBox(ref string) string {
	return wrapJSEval(jsRefHelper + `
var el = _byRef(` + jsString(ref) + `);
el.scrollIntoView({block:"center", inline:"center"});
var r = el.getBoundingClientRect();
return JSON.stringify({ok:true,data:{
  x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height,
  center_x: r.left + r.width / 2, center_y: r.top + r.height / 2
}});`)
}

func jsElementText(ref string) string {
	return wrapJSEval(jsRefHelper + `
var el = _byRef(` + jsString(ref) + `);
return JSON.stringify({ok:true,data:{text:String(el.textContent || "")}});`)
}

// jsFocus focuses the element; with selectAll its current value is selected
// so the next key press replaces it.
func jsFocus(ref string, selectAll bool) string {
	sel := "false"
	if selectAll {
		sel = "true"
	}
	return wrapJSEval(jsRefHelper + `
var el = _byRef(` + jsString(ref) + `);
el.focus();
if (` + sel + `) {
  if (typeof el.select === "function") { el.select(); }
  else { document.execCommand("selectAll", false, null); }
}
return JSON.stringify({ok:true,data:{focused:document.activeElement === el}});`)
}
