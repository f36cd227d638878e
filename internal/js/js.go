package js

// PAGE_STATE captures where the submitted script left the page.
var PAGE_STATE string = `
() => {
    return {
        url: window.location.href,
        title: document.title
    }
}
`

// PING is evaluated on a throwaway page to check the browser still answers.
var PING string = `
() => "pong"
`
