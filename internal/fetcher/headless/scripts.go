package headless

// renderScript serializes a copy of the live DOM with href and src attributes
// made absolute against the document base.
const renderScript = `(() => {
  const abs = (v) => { try { return new URL(v, document.baseURI).href; } catch (e) { return v; } };
  const root = document.documentElement.cloneNode(true);
  root.querySelectorAll('[href]').forEach((el) => {
    const v = el.getAttribute('href');
    if (v && !v.startsWith('#') && !/^(javascript|mailto|tel|data):/i.test(v)) {
      el.setAttribute('href', abs(v));
    }
  });
  root.querySelectorAll('[src]').forEach((el) => {
    const v = el.getAttribute('src');
    if (v && !/^data:/i.test(v)) {
      el.setAttribute('src', abs(v));
    }
  });
  const dt = document.doctype ? '<!DOCTYPE ' + document.doctype.name + '>\n' : '';
  return dt + root.outerHTML;
})()`

const extractScript = `(() => {
  const abs = (v) => { try { return new URL(v, document.baseURI).href; } catch (e) { return ''; } };
  const links = [];
  document.querySelectorAll('a[href]').forEach((a) => links.push(a.href));
  const assets = [];
  const add = (v, type) => { if (v) { assets.push({url: abs(v), type: type}); } };
  document.querySelectorAll('img[src]').forEach((el) => add(el.getAttribute('src'), 'image'));
  document.querySelectorAll('link[rel~="stylesheet"][href]').forEach((el) => add(el.getAttribute('href'), 'css'));
  document.querySelectorAll('script[src]').forEach((el) => add(el.getAttribute('src'), 'js'));
  document.querySelectorAll('link[rel~="icon"][href]').forEach((el) => add(el.getAttribute('href'), 'image'));
  document.querySelectorAll('video[src], audio[src], source[src]').forEach((el) => add(el.getAttribute('src'), 'media'));
  document.querySelectorAll('link[rel="preload"][as="font"][href]').forEach((el) => add(el.getAttribute('href'), 'font'));
  return {links: links, assets: assets};
})()`

// fetchScript takes a JSON-quoted URL and resolves to the response with the
// body base64 encoded, or to {error} when the request is refused.
const fetchScript = `(async () => {
  try {
    const res = await fetch(%s, {credentials: 'include'});
    const buf = new Uint8Array(await res.arrayBuffer());
    let bin = '';
    for (let i = 0; i < buf.length; i += 0x8000) {
      bin += String.fromCharCode.apply(null, buf.subarray(i, i + 0x8000));
    }
    const headers = {};
    res.headers.forEach((v, k) => { headers[k] = v; });
    return {ok: res.ok, status: res.status, headers: headers, body: btoa(bin)};
  } catch (e) {
    return {error: String(e)};
  }
})()`

// headScript resolves to the Content-Length of a HEAD response, or -1.
const headScript = `(async () => {
  try {
    const res = await fetch(%s, {method: 'HEAD', credentials: 'include'});
    const len = res.headers.get('content-length');
    return len === null ? -1 : parseInt(len, 10);
  } catch (e) {
    return -1;
  }
})()`
